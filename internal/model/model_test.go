package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestPostStatus_Valid(t *testing.T) {
	tests := []struct {
		status PostStatus
		want   bool
	}{
		{PostStatusDraft, true},
		{PostStatusPublished, true},
		{PostStatusArchived, true},
		{"", false},
		{"deleted", false},
		{"Published", false},
	}

	for _, tt := range tests {
		if got := tt.status.Valid(); got != tt.want {
			t.Errorf("PostStatus(%q).Valid() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestPost_VisibleTo(t *testing.T) {
	tests := []struct {
		name   string
		status PostStatus
		caller Caller
		want   bool
	}{
		{"下書き_所有者", PostStatusDraft, AsUser("owner"), true},
		{"下書き_他ユーザー", PostStatusDraft, AsUser("other"), false},
		{"下書き_匿名", PostStatusDraft, Anonymous(), false},
		{"アーカイブ_他ユーザー", PostStatusArchived, AsUser("other"), false},
		{"公開_他ユーザー", PostStatusPublished, AsUser("other"), true},
		{"公開_匿名", PostStatusPublished, Anonymous(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Post{UserID: "owner", Status: tt.status}
			if got := p.VisibleTo(tt.caller); got != tt.want {
				t.Errorf("VisibleTo() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestPost_VisibleTo_EmptyOwner は所有者未設定の下書きが匿名に見えないことを検証する。
func TestPost_VisibleTo_EmptyOwner(t *testing.T) {
	p := &Post{UserID: "", Status: PostStatusDraft}
	if p.VisibleTo(Anonymous()) {
		t.Error("anonymous caller must not see an ownerless draft")
	}
}

func TestOptional_UnmarshalJSON(t *testing.T) {
	type payload struct {
		Name Optional[string]   `json:"name"`
		Tags Optional[[]string] `json:"tags"`
	}

	tests := []struct {
		name      string
		input     string
		wantSet   bool
		wantValid bool
		wantValue string
	}{
		{"未指定", `{}`, false, false, ""},
		{"null指定", `{"name": null}`, true, false, ""},
		{"値指定", `{"name": "Alice"}`, true, true, "Alice"},
		{"空文字", `{"name": ""}`, true, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p payload
			if err := json.Unmarshal([]byte(tt.input), &p); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if p.Name.Set != tt.wantSet {
				t.Errorf("Set = %v, want %v", p.Name.Set, tt.wantSet)
			}
			if p.Name.Valid != tt.wantValid {
				t.Errorf("Valid = %v, want %v", p.Name.Valid, tt.wantValid)
			}
			if p.Name.Value != tt.wantValue {
				t.Errorf("Value = %q, want %q", p.Name.Value, tt.wantValue)
			}
		})
	}
}

func TestOptional_UnmarshalJSON_EmptySlice(t *testing.T) {
	var p struct {
		Tags Optional[[]string] `json:"tags"`
	}
	if err := json.Unmarshal([]byte(`{"tags": []}`), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !p.Tags.Set || !p.Tags.Valid {
		t.Fatalf("tags should be set and valid, got %+v", p.Tags)
	}
	if len(p.Tags.Value) != 0 {
		t.Errorf("len(tags) = %d, want 0", len(p.Tags.Value))
	}
}

func TestOptional_UnmarshalJSON_TypeMismatch(t *testing.T) {
	var p struct {
		Name Optional[string] `json:"name"`
	}
	if err := json.Unmarshal([]byte(`{"name": 12}`), &p); err == nil {
		t.Fatal("expected error for type mismatch")
	}
}

func TestOptional_Helpers(t *testing.T) {
	if v := Some("x").Ptr(); v == nil || *v != "x" {
		t.Errorf("Some(x).Ptr() = %v", v)
	}
	if Null[string]().Ptr() != nil {
		t.Error("Null().Ptr() should be nil")
	}
	if !Null[string]().IsNull() {
		t.Error("Null().IsNull() should be true")
	}
	var absent Optional[string]
	if absent.IsNull() {
		t.Error("absent optional must not report null")
	}
}

func TestAPIError_Is(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewPostNotFoundError("p-1"))
	if !errors.Is(err, ErrNotFound) {
		t.Error("expected errors.Is(err, ErrNotFound)")
	}
	if errors.Is(err, ErrUnauthorized) {
		t.Error("NotFound must not match ErrUnauthorized")
	}

	slug := NewTagSlugConflictError("news", "news")
	if !errors.Is(slug, ErrDuplicateKey) {
		t.Error("slug conflict should be a DuplicateKey")
	}
	if errors.Is(NewDuplicateTagError("x"), &APIError{Code: ErrCodeTagSlugConflict}) {
		t.Error("plain duplicate must not match slug conflict")
	}
}

func TestAPIError_UnwrapCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewStorageFailureError("投稿の取得", cause)

	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable through Unwrap")
	}
	if !errors.Is(err, ErrStorageFailure) {
		t.Error("expected errors.Is(err, ErrStorageFailure)")
	}
	if err.Error() == "" {
		t.Error("Error() should not be empty")
	}
}

func TestCaller(t *testing.T) {
	if Anonymous().Authenticated() {
		t.Error("anonymous caller should not be authenticated")
	}
	if !AsUser("u-1").Authenticated() {
		t.Error("user caller should be authenticated")
	}
}
