// Package security はアプリケーションのセキュリティ機能を提供する。
//
// AnswerSanitizerService は受験の自由記述回答をサニタイズし、
// 保存値を経由したXSSからレポート・管理画面の閲覧者を保護する。
// bluemondayのStrictPolicyを使用し、HTMLタグを一切通過させない。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// AnswerSanitizerService は回答値のサニタイズ機能のインターフェースを定義する。
// 回答の下書き保存時と提出時の両方で使用される。
type AnswerSanitizerService interface {
	// SanitizeValue は自由記述の回答値をサニタイズして返す。
	// 回答はプレーンテキストとして扱うため、HTMLタグはすべて除去する。
	// script, iframe等の危険なタグだけでなく、装飾タグも残さない。
	// 前後の空白は取り除く。空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	SanitizeValue(value string) string
}

// answerSanitizer はAnswerSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type answerSanitizer struct {
	policy *bluemonday.Policy
}

// NewAnswerSanitizer はAnswerSanitizerServiceの新しいインスタンスを生成する。
// 回答値はコマンドやログの断片などプレーンテキストが前提のため、
// 許可リストが空のStrictPolicyを使用する。
func NewAnswerSanitizer() *answerSanitizer {
	return &answerSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// SanitizeValue は自由記述の回答値をサニタイズして返す。
func (s *answerSanitizer) SanitizeValue(value string) string {
	return strings.TrimSpace(s.policy.Sanitize(value))
}
