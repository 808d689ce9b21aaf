package units

import "testing"

func TestBinarySizeRelationships(t *testing.T) {
	t.Parallel()

	if MiB != 1024*KiB {
		t.Errorf("MiB (%d) != 1024*KiB (%d)", MiB, 1024*KiB)
	}

	if GiB != 1024*MiB {
		t.Errorf("GiB (%d) != 1024*MiB (%d)", GiB, 1024*MiB)
	}
}
