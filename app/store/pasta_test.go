package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasta_Liveness(t *testing.T) {
	now := time.Unix(1700000000, 0)

	tbl := []struct {
		name    string
		pasta   Pasta
		expired bool
		burned  bool
		stale   bool
	}{
		{"eternal untouched", Pasta{Expiration: 0, LastRead: now.Unix()}, false, false, false},
		{"expiration in future", Pasta{Expiration: now.Unix() + 60, LastRead: now.Unix()}, false, false, false},
		{"expiration passed", Pasta{Expiration: now.Unix() - 1, LastRead: now.Unix()}, true, false, false},
		{"burn limit reached", Pasta{ReadCount: 2, BurnAfterReads: 2, LastRead: now.Unix()}, false, true, false},
		{"burn limit not reached", Pasta{ReadCount: 1, BurnAfterReads: 2, LastRead: now.Unix()}, false, false, false},
		{"unlimited reads", Pasta{ReadCount: 100, BurnAfterReads: 0, LastRead: now.Unix()}, false, false, false},
		{"stale read", Pasta{LastRead: now.Add(-time.Hour * 24 * 10).Unix()}, false, false, true},
	}

	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expired, tt.pasta.Expired(now))
			assert.Equal(t, tt.burned, tt.pasta.Burned())
			assert.Equal(t, tt.stale, tt.pasta.Stale(now, 7))
			assert.False(t, tt.pasta.Stale(now, 0), "gc days 0 disables stale eviction")
		})
	}
}

func TestPastaFile_SizeString(t *testing.T) {
	tbl := []struct {
		size uint64
		res  string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{2048, "2.0 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 * 1024 * 1024 * 1024, "3.0 GB"},
	}
	for _, tt := range tbl {
		f := PastaFile{Name: "x", Size: tt.size}
		assert.Equal(t, tt.res, f.SizeString(), "size %d", tt.size)
	}
}

func TestPasta_LastReadAgo(t *testing.T) {
	now := time.Unix(1700000000, 0)

	tbl := []struct {
		ago time.Duration
		res string
	}{
		{time.Hour * 24 * 3, "3 days ago"},
		{time.Hour * 48, "2 days ago"},
		{time.Hour * 30, "30 hours ago"},
		{time.Hour * 2, "2 hours ago"},
		{time.Minute * 30, "30 minutes ago"},
		{time.Second * 45, "45 seconds ago"},
		{time.Second, "just now"},
		{0, "just now"},
	}
	for _, tt := range tbl {
		p := Pasta{LastRead: now.Add(-tt.ago).Unix()}
		assert.Equal(t, tt.res, p.LastReadAgo(now), "ago %v", tt.ago)
	}
}

func TestPasta_TimeStrings(t *testing.T) {
	p := Pasta{Created: time.Date(2024, 3, 5, 14, 30, 0, 0, time.Local).Unix()}
	assert.Equal(t, "03-05 14:30", p.CreatedString())

	assert.Equal(t, "Never", p.ExpirationString())
	p.Expiration = time.Date(2024, 12, 31, 23, 59, 0, 0, time.Local).Unix()
	assert.Equal(t, "12-31 23:59", p.ExpirationString())
}

func TestPasta_Embeddable(t *testing.T) {
	tbl := []struct {
		name  string
		pasta Pasta
		res   bool
	}{
		{"no file", Pasta{}, false},
		{"png", Pasta{File: &PastaFile{Name: "cat.png"}}, true},
		{"uppercase ext", Pasta{File: &PastaFile{Name: "cat.PNG"}}, true},
		{"video", Pasta{File: &PastaFile{Name: "clip.mp4"}}, true},
		{"archive", Pasta{File: &PastaFile{Name: "dump.tar.gz"}}, false},
		{"no extension", Pasta{File: &PastaFile{Name: "README"}}, false},
		{"encrypted image", Pasta{File: &PastaFile{Name: "cat.png"}, EncryptServer: true}, false},
		{"client encrypted image", Pasta{File: &PastaFile{Name: "cat.png"}, EncryptClient: true}, false},
	}
	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.res, tt.pasta.Embeddable())
		})
	}
}

func TestPasta_ContentEscaped(t *testing.T) {
	p := Pasta{Content: "a `cmd` $var \\ <b>&</b>"}
	assert.Equal(t, "a \\`cmd\\` \\$var \\\\ &lt;b&gt;&amp;&lt;/b&gt;", p.ContentEscaped())

	// raw-text escapes run before HTML escaping, the entities stay intact
	p = Pasta{Content: "&amp;"}
	assert.Equal(t, "&amp;amp;", p.ContentEscaped())
}

func TestDetectType(t *testing.T) {
	tbl := []struct {
		content string
		res     string
	}{
		{"https://example.com/page?q=1", TypeURL},
		{"http://example.com", TypeURL},
		{"ftp://example.com", TypeText},
		{"https://", TypeText},
		{"not a url", TypeText},
		{"see https://example.com", TypeText},
		{"https://example.com and more", TypeText},
		{" https://example.com", TypeText},
		{"", TypeText},
	}
	for _, tt := range tbl {
		assert.Equal(t, tt.res, DetectType(tt.content), "content %q", tt.content)
	}
}

func TestFileFromUnsanitized(t *testing.T) {
	f, err := FileFromUnsanitized("/tmp/dir/my report.txt")
	require.NoError(t, err)
	assert.Equal(t, "my_report.txt", f.Name)

	f, err = FileFromUnsanitized("..\\..\\evil.exe")
	require.NoError(t, err)
	assert.Equal(t, "evil.exe", f.Name)

	_, err = FileFromUnsanitized("..")
	assert.Error(t, err)
}
