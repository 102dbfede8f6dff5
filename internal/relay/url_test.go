package relay

import (
	"errors"
	"fmt"
	"testing"

	"mjpegrelay/internal/mjpeg"
)

func TestStreamURL(t *testing.T) {
	testCases := []struct {
		name      string
		base      string
		expected  string
		expectErr bool
	}{
		{"ホストのみ", "http://192.168.1.100", "http://192.168.1.100?action=stream", false},
		{"ポートとパス", "http://printer.local:8080/webcam/", "http://printer.local:8080/webcam/?action=stream", false},
		{"既存のクエリを保持", "http://cam/?user=a", "http://cam/?action=stream&user=a", false},
		{"action を上書き", "http://cam/?action=snapshot", "http://cam/?action=stream", false},
		{"https", "https://cam.example.com", "https://cam.example.com?action=stream", false},
		{"スキームなし", "192.168.1.100", "", true},
		{"非対応スキーム", "rtsp://cam/stream", "", true},
		{"空文字", "", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			actual, err := StreamURL(tc.base)
			if tc.expectErr {
				if err == nil {
					t.Errorf("エラーが期待されましたが、%q が返されました", actual)
				}
				return
			}
			if err != nil {
				t.Fatalf("予期しないエラーが発生しました: %v", err)
			}
			if actual != tc.expected {
				t.Errorf("URL が一致しません: got %s, want %s", actual, tc.expected)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	testCases := []struct {
		err      error
		expected string
	}{
		{nil, ""},
		{fmt.Errorf("%w: ステータス 500", ErrUpstreamRejected), ClassRejected},
		{fmt.Errorf("%w: %w", ErrProtocolMismatch, mjpeg.ErrNoBoundary), ClassProtocolMismatch},
		{fmt.Errorf("%w: %w", ErrProtocolMismatch, mjpeg.ErrBufferOverflow), ClassProtocolMismatch},
		{fmt.Errorf("%w: %w", ErrUpstreamUnreachable, ErrTimeout), ClassUnreachable},
		{ErrStreamEnded, ClassEnded},
		{errors.New("other"), ClassUnknown},
	}

	for _, tc := range testCases {
		if actual := Classify(tc.err); actual != tc.expected {
			t.Errorf("Classify(%v) = %q, want %q", tc.err, actual, tc.expected)
		}
	}
}
