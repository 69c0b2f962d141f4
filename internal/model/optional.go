package model

import (
	"bytes"
	"encoding/json"
)

// Optional は部分更新用のフィールドで、「未指定」「null指定」「値指定」を区別する。
//
//	Set=false             未指定（既存値を維持）
//	Set=true, Valid=false null指定
//	Set=true, Valid=true  値指定
type Optional[T any] struct {
	Set   bool
	Valid bool
	Value T
}

// Some は値指定のOptionalを返す。
func Some[T any](v T) Optional[T] {
	return Optional[T]{Set: true, Valid: true, Value: v}
}

// Null はnull指定のOptionalを返す。
func Null[T any]() Optional[T] {
	return Optional[T]{Set: true}
}

// IsNull はnullが明示的に指定されたかを返す。
func (o Optional[T]) IsNull() bool {
	return o.Set && !o.Valid
}

// Ptr は値指定ならその値へのポインタ、それ以外はnilを返す。
func (o Optional[T]) Ptr() *T {
	if !o.Valid {
		return nil
	}
	v := o.Value
	return &v
}

// UnmarshalJSON はjson.Unmarshalerを実装する。
// フィールドがJSONに存在しない場合は呼ばれないため、Setはfalseのまま残る。
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Valid = false
		var zero T
		o.Value = zero
		return nil
	}
	if err := json.Unmarshal(data, &o.Value); err != nil {
		return err
	}
	o.Valid = true
	return nil
}
