package x402pay

import "testing"

func TestResponseTextCaching(t *testing.T) {
	r := NewResponse(200, nil, []byte("hello world"), false, "", "", "")
	if got := r.Text(); got != "hello world" {
		t.Errorf("Text() = %q", got)
	}
	if got := r.Text(); got != "hello world" {
		t.Errorf("second Text() call = %q", got)
	}
}

func TestResponseJSONDecodesIndependently(t *testing.T) {
	r := NewResponse(200, nil, []byte(`{"amount":5,"ok":true}`), true, "x402", "eip155:8453", "0xabc")

	var first struct {
		Amount int  `json:"amount"`
		OK     bool `json:"ok"`
	}
	if err := r.JSON(&first); err != nil {
		t.Fatal(err)
	}
	if first.Amount != 5 || !first.OK {
		t.Errorf("unexpected decode %+v", first)
	}

	var second map[string]any
	if err := r.JSON(&second); err != nil {
		t.Fatal(err)
	}
	if second["amount"].(float64) != 5 {
		t.Errorf("unexpected second decode %+v", second)
	}
}

func TestResponseJSONPropagatesDecodeError(t *testing.T) {
	r := NewResponse(200, nil, []byte(`not json`), false, "", "", "")
	var out map[string]any
	if err := r.JSON(&out); err == nil {
		t.Fatal("expected decode error")
	}
}
