// Package kfmt implements the kernel's logging and fatal-error output. Its
// Printf does not allocate so it can be used before the Go allocator is up.
package kfmt

import (
	"io"
	"unsafe"
)

// maxBufSize bounds the width of a single formatted number or padded value.
const maxBufSize = 32

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")
	percent         = []byte("%")

	// scratch is shared by the formatting helpers. Converting a string
	// to a []byte allocates so strings are copied through it in chunks.
	scratch [maxBufSize + 1]byte

	// earlyPrintBuffer captures output until a sink is attached.
	earlyPrintBuffer ringBuffer

	// outputSink receives all Printf output. While nil, output goes to
	// earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink redirects Printf output to w and flushes any output
// accumulated in the early ring buffer to it.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyPrintBuffer)
	}
}

// Writer returns an io.Writer that forwards to the active output sink (or the
// early ring buffer if no sink is attached yet).
func Writer() io.Writer {
	return sinkWriter{}
}

type sinkWriter struct{}

func (sinkWriter) Write(p []byte) (int, error) {
	doWrite(outputSink, p)
	return len(p), nil
}

// Printf supports a subset of the fmt verbs:
//
//	%s  string or []byte
//	%d  base 10 integer
//	%x  base 16 integer, lower-case
//	%o  base 8 integer
//	%t  bool
//	%%  literal percent sign
//
// An optional decimal width may precede the verb. Strings and base-10
// integers are left-padded with spaces, base-8 and base-16 integers with
// zeroes. Only built-in types are accepted; named types must be converted
// by the caller (e.g. uint64(addr)).
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves like Printf but writes its output to w.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		argIndex, start, width int
		fmtLen                 = len(format)
	)

	for i := 0; i < fmtLen; i++ {
		if format[i] != '%' {
			continue
		}

		writeString(w, format[start:i])

		for width, i = 0, i+1; i < fmtLen && format[i] >= '0' && format[i] <= '9'; i++ {
			width = width*10 + int(format[i]-'0')
		}
		start = i + 1

		if i == fmtLen {
			doWrite(w, errNoVerb)
			break
		}

		switch verb := format[i]; verb {
		case '%':
			doWrite(w, percent)
		case 's', 'd', 'x', 'o', 't':
			if argIndex >= len(args) {
				doWrite(w, errMissingArg)
				continue
			}
			fmtArg(w, verb, width, args[argIndex])
			argIndex++
		default:
			doWrite(w, errNoVerb)
		}
	}

	if start < fmtLen {
		writeString(w, format[start:])
	}

	for ; argIndex < len(args); argIndex++ {
		doWrite(w, errExtraArg)
	}
}

func fmtArg(w io.Writer, verb byte, width int, arg interface{}) {
	if width > maxBufSize {
		width = maxBufSize
	}

	switch verb {
	case 't':
		b, ok := arg.(bool)
		switch {
		case !ok:
			doWrite(w, errWrongArgType)
		case b:
			doWrite(w, trueValue)
		default:
			doWrite(w, falseValue)
		}
	case 's':
		switch v := arg.(type) {
		case string:
			pad(w, ' ', width-len(v))
			writeString(w, v)
		case []byte:
			pad(w, ' ', width-len(v))
			doWrite(w, v)
		default:
			doWrite(w, errWrongArgType)
		}
	default:
		var (
			val uint64
			neg bool
		)

		switch v := arg.(type) {
		case uint8:
			val = uint64(v)
		case uint16:
			val = uint64(v)
		case uint32:
			val = uint64(v)
		case uint64:
			val = v
		case uint:
			val = uint64(v)
		case uintptr:
			val = uint64(v)
		case int8:
			val, neg = abs(int64(v))
		case int16:
			val, neg = abs(int64(v))
		case int32:
			val, neg = abs(int64(v))
		case int64:
			val, neg = abs(v)
		case int:
			val, neg = abs(int64(v))
		default:
			doWrite(w, errWrongArgType)
			return
		}

		fmtUint(w, verb, width, val, neg)
	}
}

func abs(v int64) (uint64, bool) {
	if v < 0 {
		return uint64(-v), true
	}
	return uint64(v), false
}

// fmtUint renders val right-aligned into scratch and writes it out.
func fmtUint(w io.Writer, verb byte, width int, val uint64, neg bool) {
	var (
		base  uint64 = 10
		padCh byte   = ' '
		pos          = len(scratch)
	)

	switch verb {
	case 'x':
		base, padCh = 16, '0'
	case 'o':
		base, padCh = 8, '0'
	}

	for {
		digit := byte(val % base)
		if digit < 10 {
			digit += '0'
		} else {
			digit += 'a' - 10
		}
		pos--
		scratch[pos] = digit

		if val /= base; val == 0 {
			break
		}
	}

	// Space padding goes before the sign, zero padding after it.
	signLen := 0
	if neg {
		signLen = 1
	}
	if padCh == '0' {
		for len(scratch)-pos+signLen < width && pos > 1 {
			pos--
			scratch[pos] = '0'
		}
	}
	if neg {
		pos--
		scratch[pos] = '-'
	}
	for len(scratch)-pos < width && pos > 0 {
		pos--
		scratch[pos] = ' '
	}

	doWrite(w, scratch[pos:])
}

// pad writes count copies of ch.
func pad(w io.Writer, ch byte, count int) {
	for ; count > 0; count-- {
		scratch[0] = ch
		doWrite(w, scratch[:1])
	}
}

// writeString copies s to w through the scratch buffer.
func writeString(w io.Writer, s string) {
	for len(s) > 0 {
		n := copy(scratch[:], s)
		doWrite(w, scratch[:n])
		s = s[n:]
	}
}

// doWrite hides p from escape analysis. Without it the compiler assumes the
// slice escapes through the io.Writer interface call and every Printf
// argument ends up heap allocated.
func doWrite(w io.Writer, p []byte) {
	p = *(*[]byte)(noEscape(unsafe.Pointer(&p)))
	if w != nil {
		w.Write(p)
		return
	}
	earlyPrintBuffer.Write(p)
}

// noEscape is the runtime.noescape trick from runtime/stubs.go.
//
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
