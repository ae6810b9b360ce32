package encryption

import (
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unhex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func validPSSHInput(t *testing.T) PSSHInput {
	t.Helper()
	return PSSHInput{
		ProtectionScheme: PSSHSchemeCENC,
		Key:              unhex(t, "1af987fa084ff3c0f4ad35a6bdab98e2"),
		KeyID:            unhex(t, "00000000621f2afe7ab2c868d5fd2e2e"),
		KeyIDs: [][]byte{
			unhex(t, "00000000621f2afe7ab2c868d5fd2e2e"),
			unhex(t, "00000000621f2afe7ab2c868d5fd2e2f"),
		},
	}
}

// Pinned outputs for the fixed input above. The generator must be
// byte-reproducible.
const (
	goldenCencBox = "AAAARHBzc2gBAAAAEHfv7MCyTQKs4zweUuL7SwAAAAIAAAAAYh8" +
		"q/nqyyGjV/S4uAAAAAGIfKv56ssho1f0uLwAAAAA="
	goldenMsprBox = "AAACJnBzc2gAAAAAmgTweZhAQoarkuZb4IhflQAAAgYGAgAAAQABAPwBPABXAFIATQBI" +
		"AEUAQQBEAEUAUgAgAHgAbQBsAG4AcwA9ACIAaAB0AHQAcAA6AC8ALwBzAGMAaABlAG0A" +
		"YQBzAC4AbQBpAGMAcgBvAHMAbwBmAHQALgBjAG8AbQAvAEQAUgBNAC8AMgAwADAANwAv" +
		"ADAAMwAvAFAAbABhAHkAUgBlAGEAZAB5AEgAZQBhAGQAZQByACIAIAB2AGUAcgBzAGkA" +
		"bwBuAD0AIgA0AC4AMAAuADAALgAwACIAPgA8AEQAQQBUAEEAPgA8AFAAUgBPAFQARQBD" +
		"AFQASQBOAEYATwA+" +
		"ADwASwBFAFkATABFAE4APgAxADYAPAAvAEsARQBZAEwARQBOAD4APABBAEwARwBJAEQA" +
		"PgBBAEUAUwBDAFQAUgA8AC8AQQBMAEcASQBEAD4APAAvAFAAUgBPAFQARQBDAFQASQBO" +
		"AEYATwA+" +
		"ADwASwBJAEQAPgBBAEEAQQBBAEEAQgA5AGkALwBpAHAANgBzAHMAaABvADEAZgAwAHUA" +
		"TABnAD0APQA8AC8ASwBJAEQAPgA8AEMASABFAEMASwBTAFUATQA+" +
		"ADQAZgB1AEIAdABEAFUAKwBLAGsARQA9ADwALwBDAEgARQBDAEsAUwBVAE0APgA8AC8A" +
		"RABBAFQAQQA+ADwALwBXAFIATQBIAEUAQQBEAEUAUgA+AA=="
	goldenMsprPRO = "BgIAAAEAAQD8ATwAVwBSAE0ASABFAEEARABFAFIAIAB4AG0AbABuAHMAPQAiAGgAdAB0" +
		"AHAAOgAvAC8AcwBjAGgAZQBtAGEAcwAuAG0AaQBjAHIAbwBzAG8AZgB0AC4AYwBvAG0A" +
		"LwBEAFIATQAvADIAMAAwADcALwAwADMALwBQAGwAYQB5AFIAZQBhAGQAeQBIAGUAYQBk" +
		"AGUAcgAiACAAdgBlAHIAcwBpAG8AbgA9ACIANAAuADAALgAwAC4AMAAiAD4APABEAEEA" +
		"VABBAD4APABQAFIATwBUAEUAQwBUAEkATgBGAE8APgA8AEsARQBZAEwARQBOAD4AMQA2" +
		"ADwALwBLAEUAWQBMAEUATgA+" +
		"ADwAQQBMAEcASQBEAD4AQQBFAFMAQwBUAFIAPAAvAEEATABHAEkARAA+" +
		"ADwALwBQAFIATwBUAEUAQwBUAEkATgBGAE8APgA8AEsASQBEAD4AQQBBAEEAQQBBAEIA" +
		"OQBpAC8AaQBwADYAcwBzAGgAbwAxAGYAMAB1AEwAZwA9AD0APAAvAEsASQBEAD4APABD" +
		"AEgARQBDAEsAUwBVAE0APgA0AGYAdQBCAHQARABVACsASwBrAEUAPQA8AC8AQwBIAEUA" +
		"QwBLAFMAVQBNAD4APAAvAEQAQQBUAEEAPgA8AC8AVwBSAE0ASABFAEEARABFAFIAPgA" +
		"="
	goldenWvBox = "AAAASnBzc2gAAAAA7e+LqXnWSs6jyCfc1R0h7QAAACoSEAAAAABiHyr+" +
		"erLIaNX9Li4SEAAAAABiHyr+erLIaNX9Li9I49yVmwY="
)

func unbase64(t *testing.T, s string) []byte {
	t.Helper()
	b, err := base64.StdEncoding.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestGeneratePSSHGoldenOutputs(t *testing.T) {
	var out PSSHData
	require.NoError(t, GeneratePSSH(validPSSHInput(t), &out))

	assert.Equal(t, unbase64(t, goldenCencBox), out.CencBox, "cenc box")
	assert.Equal(t, unbase64(t, goldenMsprBox), out.PlayReadyBox, "mspr box")
	assert.Equal(t, unbase64(t, goldenMsprPRO), out.PlayReadyPRO, "mspr pro")
	assert.Equal(t, unbase64(t, goldenWvBox), out.WidevineBox, "wv box")
}

func TestGeneratePSSHDeterministic(t *testing.T) {
	var a, b PSSHData
	require.NoError(t, GeneratePSSH(validPSSHInput(t), &a))
	require.NoError(t, GeneratePSSH(validPSSHInput(t), &b))
	assert.Equal(t, a, b)
}

func TestGeneratePSSHFailsOnInvalidInput(t *testing.T) {
	valid := validPSSHInput(t)

	var in PSSHInput
	err := GeneratePSSH(in, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid encryption scheme in PSSH generator input")

	in.ProtectionScheme = valid.ProtectionScheme
	err = GeneratePSSH(in, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid key length in PSSH generator input")

	in.Key = valid.Key
	err = GeneratePSSH(in, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid key id length in PSSH generator input")

	in.KeyID = valid.KeyID
	err = GeneratePSSH(in, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key ids cannot be empty in PSSH generator input")

	in.KeyIDs = [][]byte{valid.KeyIDs[0], {}}
	err = GeneratePSSH(in, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(),
		"invalid key id length in key ids array in PSSH generator input, index 1")

	in.KeyIDs = valid.KeyIDs
	err = GeneratePSSH(in, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output data cannot be null")
}
