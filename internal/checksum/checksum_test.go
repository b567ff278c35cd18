package checksum

import "testing"

func TestSum_Stable(t *testing.T) {
	if Sum([]byte("abc")) != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Errorf("unexpected digest %s", Sum([]byte("abc")))
	}
	if SumString("abc") != Sum([]byte("abc")) {
		t.Error("SumString differs from Sum")
	}
}

func TestSumJSON(t *testing.T) {
	sum, data, err := SumJSON(map[string]int{"b": 2, "a": 1})
	if err != nil {
		t.Fatalf("SumJSON: %v", err)
	}
	if string(data) != `{"a":1,"b":2}` {
		t.Errorf("data = %s", data)
	}
	if sum != Sum(data) {
		t.Error("digest does not match encoding")
	}
}
