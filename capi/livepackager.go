// Package main builds the livepackager C ABI shared library
// (go build -buildmode=c-shared). Hosts drive the packager through
// opaque handles; output bytes live in callee-owned buffers queried via
// livepackager_buf_data/livepackager_buf_size.
package main

/*
#include <stdint.h>
#include <stdlib.h>

typedef enum LivePackagerOutputFormat {
	LIVEPACKAGER_FORMAT_FMP4,
	LIVEPACKAGER_FORMAT_TS,
	LIVEPACKAGER_FORMAT_VTTMP4,
	LIVEPACKAGER_FORMAT_TTMLMP4,
	LIVEPACKAGER_FORMAT_TTML,
} LivePackagerOutputFormat_t;

typedef enum LivePackagerTrackType {
	LIVEPACKAGER_TRACK_AUDIO,
	LIVEPACKAGER_TRACK_VIDEO,
	LIVEPACKAGER_TRACK_TEXT,
} LivePackagerTrackType_t;

typedef enum LivePackagerEncryptionScheme {
	LIVEPACKAGER_ENCRYPTION_NONE,
	LIVEPACKAGER_ENCRYPTION_SAMPLE_AES,
	LIVEPACKAGER_ENCRYPTION_AES_128,
	LIVEPACKAGER_ENCRYPTION_CBCS,
	LIVEPACKAGER_ENCRYPTION_CENC,
} LivePackagerEncryptionScheme_t;

#define LIVEPACKAGER_KEY_IV_LEN 16

typedef struct LivePackagerConfig {
	LivePackagerOutputFormat_t format;
	LivePackagerTrackType_t track_type;

	uint8_t iv[LIVEPACKAGER_KEY_IV_LEN];
	uint32_t iv_len;
	uint8_t key[LIVEPACKAGER_KEY_IV_LEN];
	uint8_t key_id[LIVEPACKAGER_KEY_IV_LEN];
	LivePackagerEncryptionScheme_t protection_scheme;
	uint32_t protection_systems;

	uint32_t segment_number;
	int32_t m2ts_offset_ms;
	int64_t timed_text_decode_time;
} LivePackagerConfig_t;

typedef struct LivePackagerStatus {
	char* error_message; // owned by the caller, free with livepackager_status_free
	uint8_t ok;
} LivePackagerStatus_t;
*/
import "C"

import (
	"runtime/cgo"
	"unsafe"

	"github.com/jmylchreest/livepackager/pkg/livepackager"
)

func goBytes(p *C.uint8_t, n C.size_t) []byte {
	if p == nil || n == 0 {
		return nil
	}
	return C.GoBytes(unsafe.Pointer(p), C.int(n))
}

func okStatus() C.LivePackagerStatus_t {
	return C.LivePackagerStatus_t{error_message: nil, ok: 1}
}

func errStatus(err error) C.LivePackagerStatus_t {
	return C.LivePackagerStatus_t{error_message: C.CString(err.Error()), ok: 0}
}

//export livepackager_new
func livepackager_new(cfg C.LivePackagerConfig_t) C.uintptr_t {
	ivLen := int(cfg.iv_len)
	if ivLen <= 0 || ivLen > C.LIVEPACKAGER_KEY_IV_LEN {
		ivLen = C.LIVEPACKAGER_KEY_IV_LEN
	}

	goCfg := livepackager.LiveConfig{
		Format:              livepackager.OutputFormat(cfg.format),
		TrackType:           livepackager.TrackType(cfg.track_type),
		ProtectionScheme:    livepackager.ProtectionScheme(cfg.protection_scheme),
		ProtectionSystems:   livepackager.ProtectionSystemFlags(cfg.protection_systems),
		SegmentNumber:       uint32(cfg.segment_number),
		M2TSOffsetMS:        int32(cfg.m2ts_offset_ms),
		TimedTextDecodeTime: int64(cfg.timed_text_decode_time),
	}
	if goCfg.ProtectionScheme != livepackager.ProtectionNone {
		goCfg.IV = C.GoBytes(unsafe.Pointer(&cfg.iv[0]), C.int(ivLen))
		goCfg.Key = C.GoBytes(unsafe.Pointer(&cfg.key[0]), C.LIVEPACKAGER_KEY_IV_LEN)
		goCfg.KeyID = C.GoBytes(unsafe.Pointer(&cfg.key_id[0]), C.LIVEPACKAGER_KEY_IV_LEN)
	}

	pkg, err := livepackager.New(goCfg)
	if err != nil {
		return 0
	}
	return C.uintptr_t(cgo.NewHandle(pkg))
}

//export livepackager_free
func livepackager_free(h C.uintptr_t) {
	if h != 0 {
		cgo.Handle(h).Delete()
	}
}

//export livepackager_buf_new
func livepackager_buf_new() C.uintptr_t {
	return C.uintptr_t(cgo.NewHandle(livepackager.NewFullSegmentBuffer()))
}

//export livepackager_buf_free
func livepackager_buf_free(h C.uintptr_t) {
	if h != 0 {
		cgo.Handle(h).Delete()
	}
}

//export livepackager_buf_data
func livepackager_buf_data(h C.uintptr_t) *C.uint8_t {
	buf := cgo.Handle(h).Value().(*livepackager.FullSegmentBuffer)
	data := buf.Data()
	if len(data) == 0 {
		return nil
	}
	return (*C.uint8_t)(unsafe.Pointer(&data[0]))
}

//export livepackager_buf_size
func livepackager_buf_size(h C.uintptr_t) C.size_t {
	buf := cgo.Handle(h).Value().(*livepackager.FullSegmentBuffer)
	return C.size_t(buf.Size())
}

//export livepackager_buf_init_size
func livepackager_buf_init_size(h C.uintptr_t) C.size_t {
	buf := cgo.Handle(h).Value().(*livepackager.FullSegmentBuffer)
	return C.size_t(buf.InitSegmentSize())
}

//export livepackager_package_init
func livepackager_package_init(h C.uintptr_t, init *C.uint8_t, initLen C.size_t, dest C.uintptr_t) C.LivePackagerStatus_t {
	pkg, buf, st := resolve(h, dest)
	if st != nil {
		return errStatus(st)
	}
	if err := pkg.PackageInit(goBytes(init, initLen), buf); err != nil {
		return errStatus(err)
	}
	return okStatus()
}

//export livepackager_package
func livepackager_package(h C.uintptr_t, init *C.uint8_t, initLen C.size_t, seg *C.uint8_t, segLen C.size_t, dest C.uintptr_t) C.LivePackagerStatus_t {
	pkg, buf, st := resolve(h, dest)
	if st != nil {
		return errStatus(st)
	}
	if err := pkg.Package(goBytes(init, initLen), goBytes(seg, segLen), buf); err != nil {
		return errStatus(err)
	}
	return okStatus()
}

//export livepackager_package_timedtext
func livepackager_package_timedtext(h C.uintptr_t, seg *C.uint8_t, segLen C.size_t, dest C.uintptr_t) C.LivePackagerStatus_t {
	pkg, buf, st := resolve(h, dest)
	if st != nil {
		return errStatus(st)
	}
	if err := pkg.PackageTimedText(goBytes(seg, segLen), buf); err != nil {
		return errStatus(err)
	}
	return okStatus()
}

//export livepackager_status_free
func livepackager_status_free(st C.LivePackagerStatus_t) {
	if st.error_message != nil {
		C.free(unsafe.Pointer(st.error_message))
	}
}

// resolve looks up the packager and destination buffer handles.
func resolve(h, dest C.uintptr_t) (*livepackager.Packager, *livepackager.FullSegmentBuffer, error) {
	if h == 0 {
		return nil, nil, livepackager.NewStatus(livepackager.KindInvalidArgument, "null packager handle")
	}
	if dest == 0 {
		return nil, nil, livepackager.NewStatus(livepackager.KindInvalidArgument, "null destination buffer")
	}
	pkg, ok := cgo.Handle(h).Value().(*livepackager.Packager)
	if !ok {
		return nil, nil, livepackager.NewStatus(livepackager.KindInvalidArgument, "handle is not a packager")
	}
	buf, ok := cgo.Handle(dest).Value().(*livepackager.FullSegmentBuffer)
	if !ok {
		return nil, nil, livepackager.NewStatus(livepackager.KindInvalidArgument, "handle is not a buffer")
	}
	buf.Reset()
	return pkg, buf, nil
}

func main() {}
