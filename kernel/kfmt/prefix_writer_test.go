package kfmt

import (
	"bytes"
	"errors"
	"testing"
)

func TestPrefixWriter(t *testing.T) {
	specs := []struct {
		input string
		exp   string
	}{
		{"", ""},
		{"\n", "[pic] \n"},
		{"no line break anywhere", "[pic] no line break anywhere"},
		{"line feed at the end\n", "[pic] line feed at the end\n"},
		{
			"\nremapped master\nremapped slave\nmasked all lines",
			"[pic] \n[pic] remapped master\n[pic] remapped slave\n[pic] masked all lines",
		},
	}

	var (
		buf bytes.Buffer
		w   = PrefixWriter{Sink: &buf, Prefix: []byte("[pic] ")}
	)

	for specIndex, spec := range specs {
		buf.Reset()
		w.midLine = false

		wrote, err := w.Write([]byte(spec.input))
		if err != nil {
			t.Errorf("[spec %d] unexpected error: %v", specIndex, err)
		}

		if expLen := len(spec.input); expLen != wrote {
			t.Errorf("[spec %d] expected writer to write %d bytes; wrote %d", specIndex, expLen, wrote)
		}

		if got := buf.String(); got != spec.exp {
			t.Errorf("[spec %d] expected output:\n%q\ngot:\n%q", specIndex, spec.exp, got)
		}
	}
}

func TestPrefixWriterAcrossWrites(t *testing.T) {
	var (
		buf bytes.Buffer
		w   = PrefixWriter{Sink: &buf, Prefix: []byte("> ")}
	)

	w.Write([]byte("first "))
	w.Write([]byte("line\n"))
	w.Write([]byte("second"))

	if exp, got := "> first line\n> second", buf.String(); got != exp {
		t.Fatalf("expected output %q; got %q", exp, got)
	}
}

func TestPrefixWriterErrors(t *testing.T) {
	expErr := errors.New("write failed")

	t.Run("prefix write error", func(t *testing.T) {
		w := PrefixWriter{Sink: writerThatAlwaysErrors{expErr}, Prefix: []byte("> ")}
		if _, err := w.Write([]byte("data")); err != expErr {
			t.Fatalf("expected error %v; got %v", expErr, err)
		}
	})

	t.Run("data write error", func(t *testing.T) {
		w := PrefixWriter{Sink: writerThatAlwaysErrors{expErr}, Prefix: nil, midLine: true}
		if _, err := w.Write([]byte("data\nmore")); err != expErr {
			t.Fatalf("expected error %v; got %v", expErr, err)
		}
	})
}

type writerThatAlwaysErrors struct {
	err error
}

func (w writerThatAlwaysErrors) Write(_ []byte) (int, error) {
	return 0, w.err
}
