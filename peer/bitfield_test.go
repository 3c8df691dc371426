package peer

import "testing"

func TestBitfieldHas(t *testing.T) {
	bf := Bitfield{0b01010100, 0b01010100}
	outputs := []bool{false, true, false, true, false, true, false, false,
		false, true, false, true, false, true, false, false,
		false, false, false, false}
	for i := 0; i < len(outputs); i++ {
		if bf.Has(i) != outputs[i] {
			t.Errorf("Expected %t for index %d, got %t", outputs[i], i, bf.Has(i))
		}
	}
}

func TestBitfieldSet(t *testing.T) {
	bf := Bitfield{0b01010100, 0b01010100}
	expected := Bitfield{0b01010100, 0b01010101}
	for _, index := range []int{15, 19} {
		bf.Set(index)
	}
	for i := range bf {
		if bf[i] != expected[i] {
			t.Errorf("Expected byte %d to be %08b, got %08b", i, expected[i], bf[i])
		}
	}
}
