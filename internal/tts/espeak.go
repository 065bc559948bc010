package tts

/*
#cgo LDFLAGS: -lespeak-ng
#include <stdlib.h>
#include <string.h>
#include <espeak-ng/speak_lib.h>

static short *hark_buf;
static size_t hark_len, hark_cap;

static int
hark_collect(short *wav, int n, espeak_EVENT *events)
{
	if (wav == NULL || n <= 0)
	{ return 0; }

	if (hark_len + n > hark_cap)
	{
		size_t cap = hark_cap ? hark_cap : 16384;
		while (cap < hark_len + n)
		{ cap *= 2; }
		short *p = realloc(hark_buf, cap * sizeof(short));
		if (!p)
		{ return 1; }
		hark_buf = p;
		hark_cap = cap;
	}
	memcpy(hark_buf + hark_len, wav, n * sizeof(short));
	hark_len += n;
	return 0;
}

static int
hark_espeak_init(const char *voice)
{
	int rate = espeak_Initialize(AUDIO_OUTPUT_SYNCHRONOUS, 0, NULL, 0);
	if (rate <= 0)
	{ return -1; }

	espeak_SetSynthCallback(hark_collect);
	if (voice && *voice && espeak_SetVoiceByName(voice) != EE_OK)
	{ return -2; }

	return rate;
}

static int
hark_espeak_synth(const char *text)
{
	hark_len = 0;
	if (espeak_Synth(text, strlen(text) + 1, 0, POS_CHARACTER, 0, espeakCHARS_AUTO, NULL, NULL) != EE_OK)
	{ return -1; }
	if (espeak_Synchronize() != EE_OK)
	{ return -2; }
	return 0;
}

static void
hark_espeak_close(void)
{
	espeak_Terminate();
	free(hark_buf);
	hark_buf = NULL;
	hark_len = hark_cap = 0;
}
*/
import "C"

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unsafe"

	"hark/pkg/audioconv"
)

// libespeak-ng keeps global state, so one Espeak per process.
var espeakMu sync.Mutex

type Espeak struct {
	rate int
}

// NewEspeak initializes libespeak-ng for in-memory synthesis with the named
// voice; empty keeps the library default.
func NewEspeak(voice string) (*Espeak, error) {
	espeakMu.Lock()
	defer espeakMu.Unlock()

	cvoice := C.CString(voice)
	defer C.free(unsafe.Pointer(cvoice))

	rc := int(C.hark_espeak_init(cvoice))
	switch {
	case rc == -2:
		return nil, fmt.Errorf("%w: espeak: unknown voice %q", ErrSynthesis, voice)
	case rc <= 0:
		return nil, fmt.Errorf("%w: espeak: initialize failed", ErrSynthesis)
	}
	return &Espeak{rate: rc}, nil
}

// Synthesize cannot be interrupted once started; ctx is checked before.
func (e *Espeak) Synthesize(ctx context.Context, text string) (PCM, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return PCM{}, fmt.Errorf("%w: empty text", ErrSynthesis)
	}
	if err := ctx.Err(); err != nil {
		return PCM{}, err
	}

	espeakMu.Lock()
	defer espeakMu.Unlock()

	ctext := C.CString(text)
	defer C.free(unsafe.Pointer(ctext))

	if rc := C.hark_espeak_synth(ctext); rc != 0 {
		return PCM{}, fmt.Errorf("%w: espeak_Synth failed: %d", ErrSynthesis, int(rc))
	}
	if C.hark_len == 0 {
		return PCM{}, fmt.Errorf("%w: espeak produced no audio", ErrSynthesis)
	}

	raw := unsafe.Slice((*int16)(unsafe.Pointer(C.hark_buf)), int(C.hark_len))
	return PCM{Samples: audioconv.Int16ToFloat32(raw), SampleRate: e.rate}, nil
}

func (e *Espeak) Close() error {
	espeakMu.Lock()
	defer espeakMu.Unlock()
	C.hark_espeak_close()
	return nil
}
