package registry

import (
	"testing"
)

// FuzzParse checks that arbitrary catalog files never panic and that every
// accepted entry is addressable.
func FuzzParse(f *testing.F) {
	f.Add(embeddedCatalog)
	f.Add([]byte("- id: a\n  title: A\n  code: {html: '<b>', css: '', js: ''}\n"))
	f.Add([]byte("- id: ../../etc/passwd\n  title: x\n"))
	f.Add([]byte("- id: x\n  title: \"<script>alert('xss')</script>\"\n"))
	f.Add([]byte("[[[["))
	f.Add([]byte{0xff, 0xfe, 0x00})

	f.Fuzz(func(t *testing.T, data []byte) {
		if len(data) > 64*1024 {
			t.Skip("catalog too large")
		}

		effects, err := Parse(data)
		if err != nil {
			return
		}

		r := New()
		r.Replace(effects)
		if r.Count() != len(effects) {
			t.Fatalf("registry holds %d effects, parsed %d", r.Count(), len(effects))
		}
		for _, e := range effects {
			if !idPattern.MatchString(e.ID) {
				t.Errorf("accepted invalid id %q", e.ID)
			}
			if _, ok := r.Get(e.ID); !ok {
				t.Errorf("effect %q not retrievable", e.ID)
			}
		}
	})
}
