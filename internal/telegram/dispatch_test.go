package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type call struct {
	method    string
	text      string
	parseMode string
	replyTo   int64
}

type fakeSender struct {
	calls    []call
	editErr  error
	sendErrs []error // popped per SendMessage call
	nextID   int64
}

func (f *fakeSender) SendMessage(_ context.Context, req SendMessageRequest) (*Message, error) {
	f.calls = append(f.calls, call{method: "send", text: req.Text, parseMode: req.ParseMode, replyTo: req.ReplyToMessageID})
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	f.nextID++
	return &Message{MessageID: f.nextID}, nil
}

func (f *fakeSender) EditMessageText(_ context.Context, req EditMessageTextRequest) (*Message, error) {
	f.calls = append(f.calls, call{method: "edit", text: req.Text, parseMode: req.ParseMode})
	if f.editErr != nil {
		return nil, f.editErr
	}
	return &Message{MessageID: req.MessageID}, nil
}

func notModifiedErr() error {
	return &RequestError{StatusCode: 400, ErrorCode: 400, Description: "Bad Request: message is not modified"}
}

func parseErr() error {
	return &RequestError{StatusCode: 400, ErrorCode: 400, Description: "Bad Request: can't parse entities: unclosed tag"}
}

func forbiddenErr() error {
	return &RequestError{StatusCode: 403, ErrorCode: 403, Description: "Forbidden: bot was blocked by the user"}
}

func TestSend_EditSuccess(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher(sender, 0, nil)

	out, err := d.Send(context.Background(), 1, "updated", SendOptions{TryEditMessageID: 55})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if out.Path != PathEdited || out.MessageID != 55 {
		t.Fatalf("Send() = %+v, want edited message 55", out)
	}
	if len(sender.calls) != 1 || sender.calls[0].method != "edit" {
		t.Fatalf("calls = %+v, want a single edit", sender.calls)
	}
}

func TestSend_NotModifiedIsNoopWithNoExtraCalls(t *testing.T) {
	sender := &fakeSender{editErr: notModifiedErr()}
	d := NewDispatcher(sender, 0, nil)

	out, err := d.Send(context.Background(), 1, "same", SendOptions{TryEditMessageID: 55})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if out.Path != PathNoop || out.MessageID != 55 {
		t.Fatalf("Send() = %+v, want noop for message 55", out)
	}
	if len(sender.calls) != 1 {
		t.Fatalf("made %d transport calls, want 1 (the edit attempt)", len(sender.calls))
	}
}

func TestSend_EditFailureFallsThroughToFreshSend(t *testing.T) {
	sender := &fakeSender{editErr: &RequestError{StatusCode: 400, Description: "Bad Request: message to edit not found"}}
	d := NewDispatcher(sender, 0, nil)

	out, err := d.Send(context.Background(), 1, "text", SendOptions{TryEditMessageID: 55})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if out.Path != PathSent {
		t.Fatalf("Send() = %+v, want fresh send", out)
	}
	if len(sender.calls) != 2 || sender.calls[0].method != "edit" || sender.calls[1].method != "send" {
		t.Fatalf("calls = %+v, want edit then send", sender.calls)
	}
}

func TestSend_ParseErrorRetriesOncePlain(t *testing.T) {
	sender := &fakeSender{sendErrs: []error{parseErr()}}
	d := NewDispatcher(sender, 0, nil)

	out, err := d.Send(context.Background(), 1, "<b>broken", SendOptions{RichFormatting: true})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if out.Path != PathSent {
		t.Fatalf("Send() = %+v, want sent", out)
	}
	if len(sender.calls) != 2 {
		t.Fatalf("made %d sends, want exactly 2 (formatted then plain)", len(sender.calls))
	}
	if sender.calls[0].parseMode != ParseModeHTML || sender.calls[1].parseMode != "" {
		t.Fatalf("parse modes = %q then %q, want HTML then plain", sender.calls[0].parseMode, sender.calls[1].parseMode)
	}
	if sender.calls[0].text != sender.calls[1].text {
		t.Fatal("retry did not resend the exact same text")
	}
}

func TestSend_ParseErrorOnPlainSendPropagates(t *testing.T) {
	sender := &fakeSender{sendErrs: []error{parseErr()}}
	d := NewDispatcher(sender, 0, nil)

	// No rich formatting requested: a parse rejection is not retried.
	if _, err := d.Send(context.Background(), 1, "text", SendOptions{}); err == nil {
		t.Fatal("Send() swallowed a non-formatting error")
	}
	if len(sender.calls) != 1 {
		t.Fatalf("made %d sends, want 1", len(sender.calls))
	}
}

func TestSend_ForbiddenSuppressed(t *testing.T) {
	sender := &fakeSender{sendErrs: []error{forbiddenErr()}}
	d := NewDispatcher(sender, 0, nil)

	out, err := d.Send(context.Background(), 1, "text", SendOptions{})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if out.Path != PathSuppressed {
		t.Fatalf("Send() = %+v, want suppressed", out)
	}
}

func TestSend_ForbiddenPropagatesWhenOptedOut(t *testing.T) {
	sender := &fakeSender{sendErrs: []error{forbiddenErr()}}
	d := NewDispatcher(sender, 0, nil)

	_, err := d.Send(context.Background(), 1, "text", SendOptions{FailOnForbidden: true})
	var reqErr *RequestError
	if !errors.As(err, &reqErr) || reqErr.StatusCode != 403 {
		t.Fatalf("Send() error = %v, want the 403 to propagate", err)
	}
}

func TestSend_UnmatchedErrorPropagates(t *testing.T) {
	boom := &RequestError{StatusCode: 500, Description: "Internal Server Error"}
	sender := &fakeSender{sendErrs: []error{boom}}
	d := NewDispatcher(sender, 0, nil)

	_, err := d.Send(context.Background(), 1, "text", SendOptions{})
	if !errors.Is(err, boom) {
		t.Fatalf("Send() error = %v, want %v unmodified", err, boom)
	}
}

func TestSendChunked_OrderAndReplyOnFirstChunkOnly(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher(sender, 32, nil)

	text := strings.Repeat("alpha beta gamma delta epsilon ", 8)
	out, err := d.SendChunked(context.Background(), 1, text, SendOptions{ReplyToMessageID: 9})
	if err != nil {
		t.Fatalf("SendChunked() error = %v", err)
	}
	if out.Path != PathSent || out.MessageID != 1 {
		t.Fatalf("SendChunked() = %+v, want the first chunk's outcome", out)
	}
	if len(sender.calls) < 2 {
		t.Fatalf("made %d sends, want several chunks", len(sender.calls))
	}
	var rebuilt strings.Builder
	for i, c := range sender.calls {
		rebuilt.WriteString(c.text)
		if i == 0 && c.replyTo != 9 {
			t.Fatalf("first chunk replyTo = %d, want 9", c.replyTo)
		}
		if i > 0 && c.replyTo != 0 {
			t.Fatalf("chunk %d replyTo = %d, want 0", i, c.replyTo)
		}
		if len(c.text) >= 32 {
			t.Fatalf("chunk %d has length %d, want < 32", i, len(c.text))
		}
	}
	if rebuilt.String() != text {
		t.Fatal("chunks do not concatenate back to the input")
	}
}

func TestClassifiers(t *testing.T) {
	if !IsNotModifiedError(notModifiedErr()) || IsNotModifiedError(parseErr()) {
		t.Fatal("IsNotModifiedError misclassified")
	}
	if !IsParseError(parseErr()) || IsParseError(forbiddenErr()) {
		t.Fatal("IsParseError misclassified")
	}
	if !IsForbiddenError(forbiddenErr()) || IsForbiddenError(notModifiedErr()) {
		t.Fatal("IsForbiddenError misclassified")
	}
	if !IsForbiddenError(&RequestError{StatusCode: 400, Description: "Bad Request: not enough rights to send text messages"}) {
		t.Fatal("IsForbiddenError missed a rights failure")
	}
}
