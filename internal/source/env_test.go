package source

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
)

func TestEnvironmentPrefixStripAndNesting(t *testing.T) {
	t.Setenv("APP_X", "2")
	t.Setenv("APP_DATABASE_HOST", "db.internal")
	t.Setenv("OTHER_Y", "ignored")

	layer, err := NewEnvironment("APP").Layer(context.Background())
	if err != nil {
		t.Fatalf("layer: %v", err)
	}
	if got := layer["x"]; got != "2" {
		t.Fatalf("x = %#v, want %q", got, "2")
	}
	db, ok := layer["database"].(map[string]any)
	if !ok {
		t.Fatalf("database = %#v, want nested tree", layer["database"])
	}
	if got := db["host"]; got != "db.internal" {
		t.Fatalf("database.host = %#v, want %q", got, "db.internal")
	}
	if _, ok := layer["other"]; ok {
		t.Fatalf("unprefixed variable leaked into layer: %#v", layer)
	}
}

func TestEnvironmentWithoutPrefixLowercasesNames(t *testing.T) {
	t.Setenv("CONTEMPLATE_TEST_VALUE", "yes")

	layer, err := NewEnvironment("").Layer(context.Background())
	if err != nil {
		t.Fatalf("layer: %v", err)
	}
	node, ok := layer["contemplate"].(map[string]any)
	if !ok {
		t.Fatalf("contemplate = %#v, want nested tree", layer["contemplate"])
	}
	test, ok := node["test"].(map[string]any)
	if !ok {
		t.Fatalf("contemplate.test = %#v, want nested tree", node["test"])
	}
	if got := test["value"]; got != "yes" {
		t.Fatalf("contemplate.test.value = %#v, want %q", got, "yes")
	}
}

func TestEnvironmentWatchIsANoOp(t *testing.T) {
	env := NewEnvironment("APP")
	ch := make(chan struct{}, 1)
	notify := &Notifier{ch: ch, log: logr.Discard()}
	if err := env.Watch(context.Background(), notify); err != nil {
		t.Fatalf("watch: %v", err)
	}
	select {
	case <-ch:
		t.Fatal("environment source sent a notification")
	default:
	}
}
