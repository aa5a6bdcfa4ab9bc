package bridge

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsTransient_UnknownErrorsDefaultTransient(t *testing.T) {
	err := errors.New("some new failure shape")

	if !IsTransient(err) {
		t.Error("unclassified errors should default to transient")
	}
	if IsPermanent(err) {
		t.Error("unclassified errors should not be permanent")
	}
}

func TestIsTransient_Nil(t *testing.T) {
	if IsTransient(nil) {
		t.Error("nil error should not be transient")
	}
	if IsPermanent(nil) {
		t.Error("nil error should not be permanent")
	}
}

func TestMarkTransient_Nil(t *testing.T) {
	if MarkTransient(nil) != nil {
		t.Error("MarkTransient(nil) should return nil")
	}
	if MarkPermanent(nil) != nil {
		t.Error("MarkPermanent(nil) should return nil")
	}
}

func TestErrorClassification(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name          string
		err           error
		wantTransient bool
		wantPermanent bool
	}{
		{
			name:          "marked transient",
			err:           MarkTransient(base),
			wantTransient: true,
			wantPermanent: false,
		},
		{
			name:          "marked permanent",
			err:           MarkPermanent(base),
			wantTransient: false,
			wantPermanent: true,
		},
		{
			name:          "wrapped permanent stays permanent",
			err:           fmt.Errorf("connect peer-x: %w", MarkPermanent(base)),
			wantTransient: false,
			wantPermanent: true,
		},
		{
			name:          "wrapped transient stays transient",
			err:           fmt.Errorf("discover: %w", MarkTransient(base)),
			wantTransient: true,
			wantPermanent: false,
		},
		{
			name:          "unreachable is transient",
			err:           fmt.Errorf("%w: dial unix /run/x.sock", ErrUnreachable),
			wantTransient: true,
			wantPermanent: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.wantTransient {
				t.Errorf("IsTransient = %v, want %v", got, tt.wantTransient)
			}
			if got := IsPermanent(tt.err); got != tt.wantPermanent {
				t.Errorf("IsPermanent = %v, want %v", got, tt.wantPermanent)
			}
		})
	}
}

func TestErrorMessagesKeepCause(t *testing.T) {
	base := errors.New("connection reset")

	transient := MarkTransient(base)
	if transient.Error() == "" || !errors.Is(transient, base) {
		t.Error("transient wrapper should keep the cause")
	}

	permanent := MarkPermanent(base)
	if permanent.Error() == "" || !errors.Is(permanent, base) {
		t.Error("permanent wrapper should keep the cause")
	}
}

func TestIsUnreachable(t *testing.T) {
	err := fmt.Errorf("%w: kubo id: connection refused", ErrUnreachable)

	if !IsUnreachable(err) {
		t.Error("wrapped ErrUnreachable should match IsUnreachable")
	}
	if IsUnreachable(errors.New("other")) {
		t.Error("unrelated error should not match IsUnreachable")
	}
}

func TestIsNotFound_SurvivesPermanentMark(t *testing.T) {
	err := MarkPermanent(fmt.Errorf("content abc: %w", ErrNotFound))

	if !IsNotFound(err) {
		t.Error("ErrNotFound should match through the permanent wrapper")
	}
	if !IsPermanent(err) {
		t.Error("not-found should be permanent so retry loops skip it")
	}
	if IsTransient(err) {
		t.Error("not-found should not be retried")
	}
}
