package relay

import (
	"fmt"
	"net/url"
)

// StreamURL はベース URL に action=stream を設定したストリーム URL を返す
//
// 既存のクエリパラメータは保持する。
func StreamURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("URL の解析に失敗: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("サポートされていないスキーム: %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("ホストが指定されていません: %q", base)
	}

	query := u.Query()
	query.Set("action", "stream")
	u.RawQuery = query.Encode()

	return u.String(), nil
}
