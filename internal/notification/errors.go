package notification

import "errors"

var (
	// ErrInvalidParams は識別子の欠落や形式不正など、呼び出し側の誤りを表す。
	ErrInvalidParams = errors.New("パラメータが不正です")
	// ErrNotFound は通知が存在しない、または削除済みであることを表す。
	ErrNotFound = errors.New("通知が見つかりません")
	// ErrForbidden は通知の作成者でも受信者でもないユーザーによる操作を表す。
	ErrForbidden = errors.New("この通知を操作する権限がありません")
	// ErrAlreadyNotified は同じイベントと詳細コードの通知が作成済みであることを表す。
	ErrAlreadyNotified = errors.New("このイベントの通知は作成済みです")
)
