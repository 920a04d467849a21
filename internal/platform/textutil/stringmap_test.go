package textutil

import (
	"reflect"
	"testing"
)

func TestCompactAttributes(t *testing.T) {
	t.Run("trims and drops blanks", func(t *testing.T) {
		input := map[string]string{
			" shiftId ":  " sh_1 ",
			"registerId": "reg-1",
			"status":     " ",
			" ":          "ignored",
		}
		expected := map[string]string{
			"shiftId":    "sh_1",
			"registerId": "reg-1",
		}
		if actual := CompactAttributes(input); !reflect.DeepEqual(actual, expected) {
			t.Fatalf("expected %#v got %#v", expected, actual)
		}
	})

	t.Run("returns nil when nothing remains", func(t *testing.T) {
		if CompactAttributes(nil) != nil {
			t.Fatalf("expected nil for nil input")
		}
		if CompactAttributes(map[string]string{"a": " "}) != nil {
			t.Fatalf("expected nil when every value is blank")
		}
	})
}
