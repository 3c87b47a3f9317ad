package enrich

import (
	"context"
	"reflect"
	"testing"
)

type Dummy struct{}

func (d Dummy) Initialize(b []byte) (err error) {
	return
}

func (d Dummy) Lookup(ctx context.Context, term string) (fields map[string]interface{}, err error) {
	return
}

func TestExtPointsInterface(t *testing.T) {
	ext1 := RegisterExtension(new(Dummy), "Dummy")
	if !reflect.DeepEqual(ext1, []string{"Enricher"}) {
		t.Fatal("Cannot register extension")
	}

	var es = Enrichers

	e1 := es.Lookup("Dummy")
	if e1 == nil {
		t.Fatal("Cannot lookup extension")
	}
	e2 := es.Lookup("NA")
	if e2 != nil {
		t.Fatal("Expect e2 equals nil")
	}

	if !es.Register(e1, "Dummy2") {
		t.Fatal("Cannot register new extension")
	}
	if es.Register(e1, "Dummy2") {
		t.Fatal("Expected to fail on registering existing extension")
	}
	if !es.Unregister("Dummy2") {
		t.Fatal("Cannot unregister extension")
	}
	if es.Unregister("Dummy2") {
		t.Fatal("Expected to fail on unregistering non-existent extension")
	}

	if !es.Unregister("Dummy") {
		t.Fatal("Cannot unregister extension")
	}
}
