package encryption

import (
	"crypto/aes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"unicode/utf16"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/jmylchreest/livepackager/internal/mp4box"
	"github.com/jmylchreest/livepackager/internal/status"
)

// DRM system identifiers.
var (
	// CommonSystemID is the W3C common PSSH system (cenc).
	CommonSystemID = uuid.MustParse("1077efec-c0b2-4d02-ace3-3c1e52e2fb4b")
	// WidevineSystemID is Google Widevine.
	WidevineSystemID = uuid.MustParse("edef8ba9-79d6-4ace-a3c8-27dcd51d21ed")
	// PlayReadySystemID is Microsoft PlayReady.
	PlayReadySystemID = uuid.MustParse("9a04f079-9840-4286-ab92-e65be0885f95")
)

// PSSHScheme is the four-character protection scheme carried in PSSH
// payloads.
type PSSHScheme uint32

// fourCC encodes a scheme string as its big-endian integer value.
func fourCC(s string) PSSHScheme {
	return PSSHScheme(uint32(s[0])<<24 | uint32(s[1])<<16 | uint32(s[2])<<8 | uint32(s[3]))
}

// Protection schemes understood by the generator.
var (
	PSSHSchemeCENC = fourCC("cenc")
	PSSHSchemeCBC1 = fourCC("cbc1")
	PSSHSchemeCENS = fourCC("cens")
	PSSHSchemeCBCS = fourCC("cbcs")
)

// PSSHInput is the request to the PSSH generator.
type PSSHInput struct {
	ProtectionScheme PSSHScheme
	Key              []byte
	KeyID            []byte
	KeyIDs           [][]byte
}

// PSSHData carries the generated protection-system headers. All four
// artifacts are byte-deterministic for a given input.
type PSSHData struct {
	CencBox      []byte
	PlayReadyBox []byte
	PlayReadyPRO []byte
	WidevineBox  []byte
}

// GeneratePSSH produces the common, Widevine and PlayReady PSSH boxes for
// the given key set. out must be non-nil.
func GeneratePSSH(in PSSHInput, out *PSSHData) error {
	switch in.ProtectionScheme {
	case PSSHSchemeCENC, PSSHSchemeCBC1, PSSHSchemeCENS, PSSHSchemeCBCS:
	default:
		return status.New(status.KindInvalidArgument,
			"invalid encryption scheme in PSSH generator input")
	}
	if len(in.Key) != 16 {
		return status.New(status.KindInvalidArgument,
			"invalid key length in PSSH generator input")
	}
	if len(in.KeyID) != 16 {
		return status.New(status.KindInvalidArgument,
			"invalid key id length in PSSH generator input")
	}
	if len(in.KeyIDs) == 0 {
		return status.New(status.KindInvalidArgument,
			"key ids cannot be empty in PSSH generator input")
	}
	for i, kid := range in.KeyIDs {
		if len(kid) != 16 {
			return status.Newf(status.KindInvalidArgument,
				"invalid key id length in key ids array in PSSH generator input, index %d", i)
		}
	}
	if out == nil {
		return status.New(status.KindInvalidArgument, "output data cannot be null")
	}

	out.CencBox = buildCencBox(in.KeyIDs)
	out.WidevineBox = buildWidevineBox(in)

	pro, err := buildPlayReadyPRO(in)
	if err != nil {
		return err
	}
	out.PlayReadyPRO = pro
	out.PlayReadyBox = buildPSSHBox(PlayReadySystemID, 0, nil, pro)
	return nil
}

// buildPSSHBox assembles a pssh box: version 1 carries the key id list,
// version 0 omits it.
func buildPSSHBox(systemID uuid.UUID, version uint8, keyIDs [][]byte, data []byte) []byte {
	w := mp4box.NewWriter()
	w.StartFullBox("pssh", version, 0)
	sid := systemID
	w.WriteBytes(sid[:])
	if version == 1 {
		w.WriteUint32(uint32(len(keyIDs)))
		for _, kid := range keyIDs {
			w.WriteBytes(kid)
		}
	}
	w.WriteUint32(uint32(len(data)))
	w.WriteBytes(data)
	w.EndBox()
	return w.Bytes()
}

func buildCencBox(keyIDs [][]byte) []byte {
	return buildPSSHBox(CommonSystemID, 1, keyIDs, nil)
}

// buildWidevineBox serializes the Widevine PSSH proto field by field so
// the layout stays pinned: repeated bytes key_id = 2, uint32
// protection_scheme = 9.
func buildWidevineBox(in PSSHInput) []byte {
	var data []byte
	for _, kid := range in.KeyIDs {
		data = protowire.AppendTag(data, 2, protowire.BytesType)
		data = protowire.AppendBytes(data, kid)
	}
	data = protowire.AppendTag(data, 9, protowire.VarintType)
	data = protowire.AppendVarint(data, uint64(in.ProtectionScheme))
	return buildPSSHBox(WidevineSystemID, 0, nil, data)
}

// PlayReady PRO record constants.
const (
	proRecordTypeWRMHeader = 1
	wrmHeaderTemplate      = `<WRMHEADER xmlns="http://schemas.microsoft.com/DRM/2007/03/PlayReadyHeader" version="4.0.0.0"><DATA><PROTECTINFO><KEYLEN>16</KEYLEN><ALGID>%s</ALGID></PROTECTINFO><KID>%s</KID><CHECKSUM>%s</CHECKSUM></DATA></WRMHEADER>`
)

// buildPlayReadyPRO builds the PlayReady Rights Management Header object:
// a single WRMHEADER v4.0.0.0 record in UTF-16LE.
func buildPlayReadyPRO(in PSSHInput) ([]byte, error) {
	algID := "AESCTR"
	if in.ProtectionScheme == PSSHSchemeCBCS {
		algID = "COCKTAIL"
	}

	guid := keyIDToGUID(in.KeyIDs[0])
	checksum, err := playReadyChecksum(in.Key, guid)
	if err != nil {
		return nil, err
	}

	xml := fmt.Sprintf(wrmHeaderTemplate, algID,
		base64.StdEncoding.EncodeToString(guid),
		base64.StdEncoding.EncodeToString(checksum))

	encoded := utf16.Encode([]rune(xml))
	record := make([]byte, len(encoded)*2)
	for i, u := range encoded {
		binary.LittleEndian.PutUint16(record[i*2:], u)
	}

	pro := make([]byte, 10+len(record))
	binary.LittleEndian.PutUint32(pro[0:], uint32(len(pro)))
	binary.LittleEndian.PutUint16(pro[4:], 1) // record count
	binary.LittleEndian.PutUint16(pro[6:], proRecordTypeWRMHeader)
	binary.LittleEndian.PutUint16(pro[8:], uint16(len(record)))
	copy(pro[10:], record)
	return pro, nil
}

// keyIDToGUID converts a big-endian key id to the little-endian GUID
// byte order PlayReady uses.
func keyIDToGUID(kid []byte) []byte {
	guid := make([]byte, 16)
	guid[0], guid[1], guid[2], guid[3] = kid[3], kid[2], kid[1], kid[0]
	guid[4], guid[5] = kid[5], kid[4]
	guid[6], guid[7] = kid[7], kid[6]
	copy(guid[8:], kid[8:])
	return guid
}

// playReadyChecksum is the first 8 bytes of AES-128-ECB(key, kid GUID).
func playReadyChecksum(key, guid []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, status.Wrap(status.KindEncryptionError, err, "initializing checksum cipher")
	}
	ct := make([]byte, 16)
	block.Encrypt(ct, guid)
	return ct[:8], nil
}
