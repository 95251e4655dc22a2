// Package kfmt implements the kernel's formatted output facilities. Output is
// produced without touching the Go allocator so it can be used from the very
// first instruction of Kmain and from interrupt context.
package kfmt

import (
	"io"
	"unsafe"
)

// maxBufSize defines the scratch buffer size for formatting numbers. It also
// caps the supported padding width.
const maxBufSize = 32

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")

	// earlyPrintBuffer stores Printf output until an output sink is
	// attached via SetOutputSink.
	earlyPrintBuffer ringBuffer

	// outputSink is the io.Writer that receives Printf output. While nil,
	// output is captured by earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the default target for calls to Printf to w and flushes
// any output accumulated in the early print buffer to it.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyPrintBuffer)
	}
}

// GetOutputSink returns the current target for calls to Printf. A nil value
// indicates that output is being captured by the early print buffer.
func GetOutputSink() io.Writer {
	return outputSink
}

// Printf provides a minimal Printf implementation that is safe to use before
// the Go runtime allocator is available and from interrupt handlers.
//
// The following subset of the fmt verbs is supported:
//
//	%s the uninterpreted bytes of a string or byte slice
//	%d base 10 integer
//	%x base 16 integer, lower-case a-f
//	%o base 8 integer
//	%t the words true or false
//	%% a literal percent sign
//
// An optional decimal width may precede the verb. Strings and base-10
// integers are left-padded with spaces; base-8 and base-16 integers are
// left-padded with zeroes. Widths are capped to maxBufSize-1.
//
// Printf does not check whether arguments implement fmt.Stringer as the
// itables may not be initialized when it is first invoked.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves exactly like Printf but writes the formatted output to w.
// If w is nil, the output is captured by the early print buffer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		argIndex int
		width    int
		litStart int
	)

	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			continue
		}

		writeString(w, format[litStart:i])

		width = 0
		for i++; i < len(format) && format[i] >= '0' && format[i] <= '9'; i++ {
			width = width*10 + int(format[i]-'0')
		}
		litStart = i + 1

		if i == len(format) {
			doWrite(w, errNoVerb)
			break
		}

		verb := format[i]
		switch verb {
		case '%':
			writeByte(w, '%')
			continue
		case 'd', 'x', 'o', 's', 't':
		default:
			doWrite(w, errNoVerb)
			continue
		}

		if argIndex >= len(args) {
			doWrite(w, errMissingArg)
			continue
		}

		switch arg := args[argIndex]; verb {
		case 'd':
			fmtInt(w, arg, 10, width)
		case 'x':
			fmtInt(w, arg, 16, width)
		case 'o':
			fmtInt(w, arg, 8, width)
		case 's':
			fmtString(w, arg, width)
		case 't':
			fmtBool(w, arg)
		}
		argIndex++
	}

	if litStart < len(format) {
		writeString(w, format[litStart:])
	}

	for ; argIndex < len(args); argIndex++ {
		doWrite(w, errExtraArg)
	}
}

// fmtBool prints the word true or false for a bool v.
func fmtBool(w io.Writer, v interface{}) {
	b, ok := v.(bool)
	switch {
	case !ok:
		doWrite(w, errWrongArgType)
	case b:
		doWrite(w, trueValue)
	default:
		doWrite(w, falseValue)
	}
}

// fmtString prints a string or []byte value v left-padded to width.
func fmtString(w io.Writer, v interface{}, width int) {
	switch s := v.(type) {
	case string:
		fmtRepeat(w, ' ', width-len(s))
		writeString(w, s)
	case []byte:
		fmtRepeat(w, ' ', width-len(s))
		doWrite(w, s)
	default:
		doWrite(w, errWrongArgType)
	}
}

// fmtRepeat writes count copies of ch.
func fmtRepeat(w io.Writer, ch byte, count int) {
	for ; count > 0; count-- {
		writeByte(w, ch)
	}
}

// fmtInt prints the integer v in the requested base, left-padded to width.
// Digits are rendered right-to-left into a stack buffer.
func fmtInt(w io.Writer, v interface{}, base uint64, width int) {
	var (
		buf  [maxBufSize]byte
		val  uint64
		neg  bool
		pos  = maxBufSize
		pad  = byte('0')
		minW = width
	)

	switch t := v.(type) {
	case uint8:
		val = uint64(t)
	case uint16:
		val = uint64(t)
	case uint32:
		val = uint64(t)
	case uint64:
		val = t
	case uint:
		val = uint64(t)
	case uintptr:
		val = uint64(t)
	case int8:
		val, neg = abs(int64(t))
	case int16:
		val, neg = abs(int64(t))
	case int32:
		val, neg = abs(int64(t))
	case int64:
		val, neg = abs(t)
	case int:
		val, neg = abs(int64(t))
	default:
		doWrite(w, errWrongArgType)
		return
	}

	if base == 10 {
		pad = ' '
	}
	if minW >= maxBufSize {
		minW = maxBufSize - 1
	}

	for {
		pos--
		digit := byte(val % base)
		if digit < 10 {
			buf[pos] = '0' + digit
		} else {
			buf[pos] = 'a' + digit - 10
		}
		val /= base
		if val == 0 {
			break
		}
	}

	// Space padding goes before the sign; zero padding goes after it.
	signWidth := 0
	if neg {
		signWidth = 1
	}
	if pad == '0' {
		for maxBufSize-pos+signWidth < minW {
			pos--
			buf[pos] = '0'
		}
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	for maxBufSize-pos < minW {
		pos--
		buf[pos] = ' '
	}

	doWrite(w, buf[pos:])
}

// abs returns the magnitude of v and whether v was negative.
func abs(v int64) (uint64, bool) {
	if v < 0 {
		return uint64(-v), true
	}
	return uint64(v), false
}

// writeString emits s one byte at a time; converting s to a []byte would
// trigger an allocation.
func writeString(w io.Writer, s string) {
	for i := 0; i < len(s); i++ {
		writeByte(w, s[i])
	}
}

func writeByte(w io.Writer, ch byte) {
	buf := [1]byte{ch}
	doWrite(w, buf[:])
}

// doWrite hides p from escape analysis before handing it to w. Without this,
// the compiler cannot prove that p does not escape through the io.Writer
// interface call and moves every stack buffer passed here to the heap.
func doWrite(w io.Writer, p []byte) {
	doRealWrite(w, noEscape(unsafe.Pointer(&p)))
}

func doRealWrite(w io.Writer, bufPtr unsafe.Pointer) {
	p := *(*[]byte)(bufPtr)
	if w != nil {
		w.Write(p)
	} else {
		earlyPrintBuffer.Write(p)
	}
}

// noEscape hides a pointer from escape analysis (see runtime/stubs.go).
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
