package npy

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"math"
	"strings"
	"testing"

	"gorgonia.org/tensor"

	"babiload/pkg/babi"
	"babiload/pkg/contract"
)

func recs(lengths ...int) []contract.FlattenedRecord {
	out := make([]contract.FlattenedRecord, 0, len(lengths))
	for _, n := range lengths {
		out = append(out, contract.FlattenedRecord{Context: make(contract.Sentence, n), Answer: "a"})
	}
	return out
}

func decode(t *testing.T, a contract.Artifact) *tensor.Dense {
	t.Helper()
	b, err := io.ReadAll(a.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.HasPrefix(b, []byte("\x93NUMPY")) {
		t.Fatalf("missing npy magic")
	}
	d := new(tensor.Dense)
	if err := d.ReadNpy(bytes.NewReader(b)); err != nil {
		t.Fatalf("read npy: %v", err)
	}
	return d
}

// readInt64 按 npy 格式解析头部并读取 <i8 数据（tensor 的 ReadNpy 将 <i8 映射为 int，无法直接读回）。
func readInt64(t *testing.T, a contract.Artifact) (string, []int64) {
	t.Helper()
	b, err := io.ReadAll(a.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(b) < 10 || !bytes.HasPrefix(b, []byte("\x93NUMPY")) {
		t.Fatalf("missing npy magic")
	}
	var hlen, off int
	switch b[6] {
	case 1:
		hlen, off = int(binary.LittleEndian.Uint16(b[8:10])), 10
	default:
		hlen, off = int(binary.LittleEndian.Uint32(b[8:12])), 12
	}
	header := string(b[off : off+hlen])
	payload := b[off+hlen:]
	if len(payload)%8 != 0 {
		t.Fatalf("payload size %d", len(payload))
	}
	out := make([]int64, len(payload)/8)
	if err := binary.Read(bytes.NewReader(payload), binary.LittleEndian, out); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return header, out
}

func TestEncodeCounts(t *testing.T) {
	c := babi.Aggregate("x", recs(2, 2, 5), recs(120))
	arts, err := New(nil).Encode(context.Background(), c)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(arts) != 1 || arts[0].ID != LenDist {
		t.Fatalf("artifacts: %+v", arts)
	}
	header, data := readInt64(t, arts[0])
	if !strings.Contains(header, "'<i8'") || !strings.Contains(header, "(121,)") {
		t.Fatalf("header: %q", header)
	}
	if len(data) != 121 || data[2] != 2 || data[5] != 1 || data[120] != 1 || data[110] != 0 {
		t.Fatalf("dense vector mismatch: len=%d", len(data))
	}
}

func TestEncodeNormalized(t *testing.T) {
	c := babi.Aggregate("x", recs(1, 1, 3, 3), nil)
	arts, err := New(&Options{Normalize: true, Prefix: "qa1/"}).Encode(context.Background(), c)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if arts[0].ID != "qa1/length_distribution.npy" {
		t.Fatalf("id: %s", arts[0].ID)
	}
	data := decode(t, arts[0]).Data().([]float64)
	if len(data) != babi.DenseLengths || math.Abs(data[1]-0.5) > 1e-12 || math.Abs(data[3]-0.5) > 1e-12 {
		t.Fatalf("normalized mismatch: %v", data[:4])
	}
}

func TestDenseEmpty(t *testing.T) {
	if got := Dense(contract.LengthDistribution{}); len(got) != 1 || got[0] != 0 {
		t.Fatalf("empty dense: %v", got)
	}
}

func TestEncodeNil(t *testing.T) {
	if _, err := New(nil).Encode(context.Background(), nil); err != contract.ErrInvalidInput {
		t.Fatalf("nil corpus: %v", err)
	}
}
