package ids

import (
	"testing"
	"time"
)

func TestNewIsSortable(t *testing.T) {
	prev := New()
	for i := 0; i < 100; i++ {
		next := New()
		if next <= prev {
			t.Fatalf("ids are not monotonic: %s then %s", prev, next)
		}
		prev = next
	}
}

func TestTimeRoundTrip(t *testing.T) {
	at := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	got, ok := Time(NewAt(at))
	if !ok || !got.Equal(at) {
		t.Fatalf("Time = %v, %v; want %v", got, ok, at)
	}
	if _, ok := Time("not-an-id"); ok {
		t.Fatalf("expected garbage to be rejected")
	}
}

func TestValidRequestID(t *testing.T) {
	valid := []string{New(), "3f1c2a9e-5b1d-4d8e-9f0a-2b3c4d5e6f70"}
	for _, id := range valid {
		if !ValidRequestID(id) {
			t.Fatalf("expected %q to be valid", id)
		}
	}
	invalid := []string{"", "abc", "<script>", "01HV9Z7Q3J8K2M4N6P8R0T2V4X-extra"}
	for _, id := range invalid {
		if ValidRequestID(id) {
			t.Fatalf("expected %q to be invalid", id)
		}
	}
}
