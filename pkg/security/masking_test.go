package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskWalletAddress(t *testing.T) {
	assert.Equal(t, "0xf39F...2266", MaskWalletAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"))
	assert.Equal(t, "0x****", MaskWalletAddress("0x12"))
}

func TestMaskMap(t *testing.T) {
	tx := "0x" + "ab" + "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd"
	in := map[string]interface{}{
		"master_seed": "test test junk",
		"hot_wallet":  "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		"items": []interface{}{
			map[string]interface{}{"tx_ref": tx, "private_key": "0xdead"},
		},
		"count": 3,
	}

	out := MaskMap(in)

	assert.Equal(t, "***REDACTED***", out["master_seed"])
	assert.Equal(t, "0xf39F...2266", out["hot_wallet"])
	assert.Equal(t, 3, out["count"])
	item := out["items"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, tx, item["tx_ref"])
	assert.Equal(t, "***REDACTED***", item["private_key"])
}
