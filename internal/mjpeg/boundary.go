package mjpeg

import (
	"errors"
	"fmt"
	"strings"

	"github.com/elnormous/contenttype"
)

// ErrNoBoundary は Content-Type に boundary パラメータが無いことを表す
var ErrNoBoundary = errors.New("boundary パラメータが見つかりません")

// boundaryPrefix は multipart の区切り行に付くダッシュ
const boundaryPrefix = "--"

// Boundary はパート間の区切りに使う境界トークン（"--" + boundary）
type Boundary []byte

// String は境界トークンを文字列で返す
func (b Boundary) String() string {
	return string(b)
}

// ParseBoundary は Content-Type ヘッダーの値から境界トークンを作る
func ParseBoundary(contentType string) (Boundary, error) {
	if strings.TrimSpace(contentType) == "" {
		return nil, fmt.Errorf("Content-Type が空です: %w", ErrNoBoundary)
	}

	value, ok := boundaryParam(contentType)
	if !ok || value == "" {
		return nil, fmt.Errorf("Content-Type %q: %w", contentType, ErrNoBoundary)
	}

	return Boundary(boundaryPrefix + value), nil
}

// boundaryParam は boundary パラメータの値を大文字小文字を保ったまま取り出す
//
// contenttype はパラメータ値を小文字にするため、形式の検証にだけ使い、
// 値はヘッダーの元の文字列から読む。
func boundaryParam(contentType string) (string, bool) {
	raw, found := rawParam(contentType, "boundary")

	mediaType, err := contenttype.ParseMediaType(contentType)
	if err != nil {
		// カメラによっては RFC に沿わない値を返すため、元の文字列から読めればそれを使う
		return raw, found
	}
	value, ok := mediaType.Parameters["boundary"]
	if !ok || value == "" {
		return "", false
	}
	if found && raw != "" {
		return raw, true
	}
	return value, true
}

// rawParam は name=value 形式のパラメータを名前の大文字小文字を区別せずに探す
// 値は引用符を外し、引用符なしなら次の ";" の手前までを返す
func rawParam(header, name string) (string, bool) {
	key := name + "="
	for i := 0; i+len(key) <= len(header); i++ {
		if !strings.EqualFold(header[i:i+len(key)], key) {
			continue
		}
		// "xboundary=" のような別名のパラメータは除く
		if i > 0 && !strings.ContainsRune("; \t", rune(header[i-1])) {
			continue
		}

		rest := strings.TrimLeft(header[i+len(key):], " \t")
		if strings.HasPrefix(rest, `"`) {
			rest = rest[1:]
			if end := strings.IndexByte(rest, '"'); end >= 0 {
				return rest[:end], true
			}
			return strings.TrimSpace(rest), true
		}
		if end := strings.IndexByte(rest, ';'); end >= 0 {
			rest = rest[:end]
		}
		return strings.TrimSpace(rest), true
	}
	return "", false
}
