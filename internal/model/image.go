package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// legacyUnsetImage は旧クライアントが「画像を変更しない」の意味で送る文字列。
const legacyUnsetImage = "undefined"

// ImageAction は投稿画像に対する操作の種類。
type ImageAction int

const (
	// ImageUnset は既存の画像を変更しないことを示す。
	ImageUnset ImageAction = iota
	// ImageClear は画像を外すことを示す。
	ImageClear
	// ImageSet は画像を指定パスに差し替えることを示す。
	ImageSet
)

// String はログ出力用の名前を返す。
func (a ImageAction) String() string {
	switch a {
	case ImageClear:
		return "clear"
	case ImageSet:
		return "set"
	default:
		return "unset"
	}
}

// ImageChange は投稿更新時の画像フィールドの三状態を表す。
// ゼロ値はImageUnset。
type ImageChange struct {
	Action ImageAction
	Path   string
}

// KeepImage は画像を変更しないImageChangeを返す。
func KeepImage() ImageChange { return ImageChange{Action: ImageUnset} }

// ClearImage は画像を外すImageChangeを返す。
func ClearImage() ImageChange { return ImageChange{Action: ImageClear} }

// SetImage は画像をpathに差し替えるImageChangeを返す。
func SetImage(path string) ImageChange { return ImageChange{Action: ImageSet, Path: path} }

// UnmarshalJSON はワイヤ表現をImageChangeに変換する。
// null はClear、"undefined" はUnset、それ以外の文字列はSetになる。
// フィールド自体が省略された場合は呼ばれず、ゼロ値のUnsetのまま残る。
func (c *ImageChange) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*c = ClearImage()
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("imageUrl must be a string or null: %w", err)
	}

	switch s {
	case legacyUnsetImage:
		*c = KeepImage()
	case "":
		*c = ClearImage()
	default:
		*c = SetImage(s)
	}
	return nil
}

// Apply は現在の画像パスにこの変更を適用した結果を返す。
func (c ImageChange) Apply(current string) string {
	switch c.Action {
	case ImageClear:
		return ""
	case ImageSet:
		return c.Path
	default:
		return current
	}
}
