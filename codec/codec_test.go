package codec

import (
	"strings"
	"testing"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

type stat struct {
	Name string `json:"name"`
	Base int    `json:"base_stat"`
}

type mon struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Stats []stat `json:"stats"`
}

var pikachu = mon{ID: 25, Name: "pikachu", Stats: []stat{{"hp", 35}, {"speed", 90}}}

func sameMon(a, b mon) bool {
	if a.ID != b.ID || a.Name != b.Name || len(a.Stats) != len(b.Stats) {
		return false
	}
	for i := range a.Stats {
		if a.Stats[i] != b.Stats[i] {
			return false
		}
	}
	return true
}

func TestNamedCodecs(t *testing.T) {
	for _, name := range []string{"json", "cbor", "msgpack", "protobuf"} {
		t.Run(name, func(t *testing.T) {
			c, err := ByName[mon](name)
			if err != nil {
				t.Fatalf("ByName: %v", err)
			}
			b, err := c.Encode(pikachu)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := c.Decode(b)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !sameMon(got, pikachu) {
				t.Fatalf("got %+v want %+v", got, pikachu)
			}
		})
	}
	if _, err := ByName[mon]("yaml"); err == nil {
		t.Fatalf("expected error for unknown codec")
	}
}

func TestMsgpackUsesJSONTags(t *testing.T) {
	b, err := Msgpack[mon]{}.Encode(pikachu)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "base_stat") {
		t.Fatalf("expected json tag names in msgpack output")
	}
}

func TestCBORDeterministic(t *testing.T) {
	c := MustCBOR[map[string]int](true)
	in := map[string]int{"speed": 90, "hp": 35, "attack": 55}
	a, err := c.Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		b, _ := c.Encode(in)
		if string(a) != string(b) {
			t.Fatalf("deterministic encoding differs between runs")
		}
	}
}

func TestLimitRejectsOversized(t *testing.T) {
	c := Limit[string]{Inner: JSON[string]{}, MaxDecode: 6}
	if _, err := c.Decode([]byte(`"pikachu"`)); err == nil {
		t.Fatalf("expected size error")
	}
	if got, err := c.Decode([]byte(`"mew"`)); err != nil || got != "mew" {
		t.Fatalf("small payload: got %q err %v", got, err)
	}
	unlimited := Limit[string]{Inner: JSON[string]{}}
	if _, err := unlimited.Decode([]byte(`"` + strings.Repeat("x", 1<<16) + `"`)); err != nil {
		t.Fatalf("MaxDecode=0 must disable the limit: %v", err)
	}
}

func TestStructPBKeepsJSONShape(t *testing.T) {
	c := StructPB[mon]{}
	b, err := c.Encode(pikachu)
	if err != nil {
		t.Fatal(err)
	}
	pv := new(structpb.Value)
	if err := proto.Unmarshal(b, pv); err != nil {
		t.Fatalf("payload is not a protobuf Value: %v", err)
	}
	fields := pv.GetStructValue().GetFields()
	if got := fields["name"].GetStringValue(); got != "pikachu" {
		t.Fatalf("name field = %q", got)
	}
	if got := fields["stats"].GetListValue().GetValues()[1].GetStructValue().GetFields()["base_stat"].GetNumberValue(); got != 90 {
		t.Fatalf("nested base_stat = %v", got)
	}
	if _, err := c.Decode([]byte{0xff, 0xff}); err == nil {
		t.Fatalf("expected error for garbage payload")
	}
}

func TestProtobuf(t *testing.T) {
	c := NewProtobuf(func() *structpb.Struct { return new(structpb.Struct) })
	in, err := structpb.NewStruct(map[string]any{"id": 25, "name": "pikachu"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := c.Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if !proto.Equal(in, out) {
		t.Fatalf("protobuf round trip mismatch: %v vs %v", in, out)
	}
}
