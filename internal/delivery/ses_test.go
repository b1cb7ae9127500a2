package delivery

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
)

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, params *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-msg-1")}, nil
}

func sampleEmail() Email {
	return Email{
		From:      "digest@example.org",
		To:        []string{"team@example.org"},
		Subject:   "Community Digest — 2026-08-28 (1 update)",
		TextBody:  "text body",
		HTMLBody:  "<html>body</html>",
		ItemCount: 1,
	}
}

func TestSES_Deliver(t *testing.T) {
	fake := &fakeSES{}
	s := &SES{client: fake}

	id, err := s.Deliver(context.Background(), sampleEmail())
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if id != "ses-msg-1" {
		t.Errorf("message id = %q", id)
	}

	in := fake.input
	if aws.ToString(in.FromEmailAddress) != "digest@example.org" {
		t.Errorf("from = %q", aws.ToString(in.FromEmailAddress))
	}
	if len(in.Destination.ToAddresses) != 1 || in.Destination.ToAddresses[0] != "team@example.org" {
		t.Errorf("to = %v", in.Destination.ToAddresses)
	}
	msg := in.Content.Simple
	if aws.ToString(msg.Subject.Data) != "Community Digest — 2026-08-28 (1 update)" {
		t.Errorf("subject = %q", aws.ToString(msg.Subject.Data))
	}
	if aws.ToString(msg.Body.Text.Data) != "text body" {
		t.Errorf("text body = %q", aws.ToString(msg.Body.Text.Data))
	}
	if msg.Body.Html == nil || aws.ToString(msg.Body.Html.Data) != "<html>body</html>" {
		t.Error("html body missing")
	}
}

func TestSES_TextOnlyWhenNoHTML(t *testing.T) {
	fake := &fakeSES{}
	s := &SES{client: fake}

	email := sampleEmail()
	email.HTMLBody = ""
	if _, err := s.Deliver(context.Background(), email); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if fake.input.Content.Simple.Body.Html != nil {
		t.Error("html part should be omitted when empty")
	}
}

func TestSES_SkipEmpty(t *testing.T) {
	fake := &fakeSES{}
	s := &SES{client: fake, SkipEmpty: true}

	email := sampleEmail()
	email.ItemCount = 0

	id, err := s.Deliver(context.Background(), email)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if id != "skipped-empty" {
		t.Errorf("message id = %q, want skipped-empty", id)
	}
	if fake.input != nil {
		t.Error("skip-empty must not call the API")
	}

	// Without the policy, the empty digest still goes out.
	s.SkipEmpty = false
	if _, err := s.Deliver(context.Background(), email); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if fake.input == nil {
		t.Error("empty digest should send when SkipEmpty is off")
	}
}

func TestSES_Validation(t *testing.T) {
	s := &SES{client: &fakeSES{}}

	email := sampleEmail()
	email.To = nil
	if _, err := s.Deliver(context.Background(), email); err == nil {
		t.Error("expected error without recipients")
	}

	email = sampleEmail()
	email.From = ""
	if _, err := s.Deliver(context.Background(), email); err == nil {
		t.Error("expected error without sender")
	}
}

func TestSES_SendFailure(t *testing.T) {
	s := &SES{client: &fakeSES{err: errors.New("throttled")}}

	_, err := s.Deliver(context.Background(), sampleEmail())
	if err == nil {
		t.Fatal("expected send failure to surface")
	}
}
