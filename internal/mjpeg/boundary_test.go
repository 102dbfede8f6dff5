package mjpeg

import (
	"errors"
	"testing"
)

func TestParseBoundary(t *testing.T) {
	testCases := []struct {
		name        string
		contentType string
		expected    string
		expectErr   bool
	}{
		{"mjpg-streamer形式", "multipart/x-mixed-replace;boundary=boundarydonotcross", "--boundarydonotcross", false},
		{"スペースあり", "multipart/x-mixed-replace; boundary=frame", "--frame", false},
		{"引用符付き", `multipart/x-mixed-replace; boundary="myboundary"`, "--myboundary", false},
		{"大文字小文字を保持", "multipart/x-mixed-replace;boundary=BoundaryDoNotCross", "--BoundaryDoNotCross", false},
		{"引用符付きの大文字", `multipart/x-mixed-replace; boundary="MyBoundary"`, "--MyBoundary", false},
		{"引用符内の等号", `multipart/x-mixed-replace; boundary="Ab=Cd"`, "--Ab=Cd", false},
		{"パラメータ名が大文字", "multipart/x-mixed-replace; BOUNDARY=BoundaryString", "--BoundaryString", false},
		{"後続のパラメータ", "multipart/x-mixed-replace; boundary=MixedCase; charset=utf-8", "--MixedCase", false},
		{"先頭にダッシュを含む値", "multipart/x-mixed-replace; boundary=--video", "----video", false},
		{"boundaryなし", "text/html; charset=utf-8", "", true},
		{"空のContent-Type", "", "", true},
		{"空のboundary", "multipart/x-mixed-replace; boundary=", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := ParseBoundary(tc.contentType)
			if tc.expectErr {
				if err == nil {
					t.Fatalf("エラーが期待されましたが、boundary %q が返されました", b)
				}
				if !errors.Is(err, ErrNoBoundary) {
					t.Errorf("ErrNoBoundary が期待されました: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("予期しないエラーが発生しました: %v", err)
			}
			if b.String() != tc.expected {
				t.Errorf("boundary が一致しません: got %q, want %q", b, tc.expected)
			}
		})
	}
}
