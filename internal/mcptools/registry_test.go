package mcptools

import (
	"context"
	"encoding/json"
	"testing"
)

func echoHandler(text string) Handler {
	return func(ctx context.Context, caller CallerContext, args json.RawMessage) (CallResult, error) {
		return CallResult{Text: text}, nil
	}
}

func TestRouter_ListReturnsRegisteredTools(t *testing.T) {
	r := NewRouter()
	r.Register(Descriptor{Name: "ping", InputSchema: schemaObject(nil)}, echoHandler("pong"))
	r.Register(Descriptor{Name: "noop", InputSchema: schemaObject(nil)}, echoHandler("ok"))

	list := r.List()
	if len(list) != 2 || list[0].Name != "ping" || list[1].Name != "noop" {
		t.Fatalf("unexpected tool list: %+v", list)
	}
}

func TestRouter_CallUnknownToolIsError(t *testing.T) {
	r := NewRouter()
	content, isError := r.Call(context.Background(), CallerContext{}, "missing", nil)
	if !isError {
		t.Fatal("expected isError for an unregistered tool")
	}
	if len(content) != 1 {
		t.Fatalf("expected a single content block, got %d", len(content))
	}
}

func TestRouter_CallValidatesArgumentsAgainstSchema(t *testing.T) {
	r := NewRouter()
	r.Register(Descriptor{
		Name:        "needs_name",
		InputSchema: schemaObject(map[string]any{"name": schemaString()}, "name"),
	}, echoHandler("unused"))

	_, isError := r.Call(context.Background(), CallerContext{}, "needs_name", json.RawMessage(`{}`))
	if !isError {
		t.Fatal("expected a missing required field to fail validation")
	}

	content, isError := r.Call(context.Background(), CallerContext{}, "needs_name", json.RawMessage(`{"name":"a"}`))
	if isError {
		t.Fatalf("expected valid arguments to succeed, got error content: %+v", content)
	}
}

func TestRouter_CallRejectsMalformedJSON(t *testing.T) {
	r := NewRouter()
	r.Register(Descriptor{Name: "t", InputSchema: schemaObject(nil)}, echoHandler("ok"))
	_, isError := r.Call(context.Background(), CallerContext{}, "t", json.RawMessage(`{not json`))
	if !isError {
		t.Fatal("expected malformed JSON arguments to be rejected")
	}
}

func TestRouter_HandlerErrorBecomesErrorContent(t *testing.T) {
	r := NewRouter()
	r.Register(Descriptor{Name: "fails", InputSchema: schemaObject(nil)}, func(ctx context.Context, caller CallerContext, args json.RawMessage) (CallResult, error) {
		return CallResult{}, callErrorf("boom")
	})
	content, isError := r.Call(context.Background(), CallerContext{}, "fails", nil)
	if !isError {
		t.Fatal("expected handler error to set isError")
	}
	if content[0].Text != "Error: boom" {
		t.Fatalf("unexpected error text: %q", content[0].Text)
	}
}
