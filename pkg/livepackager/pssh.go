package livepackager

import (
	"github.com/jmylchreest/livepackager/internal/encryption"
)

// PSSHScheme is the four-character protection scheme carried in PSSH
// payloads.
type PSSHScheme = encryption.PSSHScheme

// Protection schemes understood by the PSSH generator.
var (
	PSSHSchemeCENC = encryption.PSSHSchemeCENC
	PSSHSchemeCBC1 = encryption.PSSHSchemeCBC1
	PSSHSchemeCENS = encryption.PSSHSchemeCENS
	PSSHSchemeCBCS = encryption.PSSHSchemeCBCS
)

// PSSHInput is the request to the PSSH generator.
type PSSHInput = encryption.PSSHInput

// PSSHData carries the generated protection-system headers.
type PSSHData = encryption.PSSHData

// GeneratePSSHData produces the common (CENC), Widevine and PlayReady
// PSSH boxes plus the inner PlayReady PRO object for the given key set.
// All outputs are byte-deterministic for a given input. out must be
// non-nil.
func GeneratePSSHData(in PSSHInput, out *PSSHData) error {
	return encryption.GeneratePSSH(in, out)
}
