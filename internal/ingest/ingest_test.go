package ingest

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"image-vault/internal/database"
	"image-vault/internal/filesystem"
	"image-vault/internal/media"
)

type testEnv struct {
	svc    *Service
	db     *database.Database
	layout *filesystem.Layout
}

func setupService(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	layout, err := filesystem.NewLayout(filepath.Join(dir, "storage"), filepath.Join(dir, "staging"))
	if err != nil {
		t.Fatalf("NewLayout() error = %v", err)
	}
	if err := layout.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs() error = %v", err)
	}

	db, err := database.New(context.Background(), filepath.Join(dir, "vault.db"))
	if err != nil {
		t.Fatalf("database.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	thumbs := media.NewThumbnailGenerator(media.DefaultThumbnailSize, media.JPEGEncoder{})
	return &testEnv{
		svc:    NewService(db, layout, thumbs),
		db:     db,
		layout: layout,
	}
}

// encodeImage renders a w x h gradient whose colours depend on seed.
func encodeImage(t *testing.T, format string, w, h int, seed uint8) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x) + seed, G: uint8(y), B: seed, A: 255})
		}
	}

	var buf bytes.Buffer
	var err error
	switch format {
	case "png":
		err = png.Encode(&buf, img)
	default:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	}
	if err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	return buf.Bytes()
}

func (e *testEnv) stage(t *testing.T, data []byte, name string) string {
	t.Helper()
	path, n, err := e.svc.Stage(bytes.NewReader(data), name)
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	if n != int64(len(data)) {
		t.Fatalf("Stage() wrote %d bytes, want %d", n, len(data))
	}
	return path
}

func (e *testEnv) ingest(t *testing.T, data []byte, name, mime, folder string) (*database.Asset, string, error) {
	t.Helper()
	staged := e.stage(t, data, name)
	a, err := e.svc.Ingest(context.Background(), Upload{
		StagedPath:   staged,
		OriginalName: name,
		MimeType:     mime,
		Folder:       folder,
	})
	return a, staged, err
}

func assertCode(t *testing.T, err error, want Code) *Error {
	t.Helper()
	var ie *Error
	if !errors.As(err, &ie) {
		t.Fatalf("error = %v, want *ingest.Error with code %s", err, want)
	}
	if ie.Code != want {
		t.Fatalf("code = %s, want %s (%v)", ie.Code, want, err)
	}
	return ie
}

func assertMissing(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("%s should not exist (stat error = %v)", path, err)
	}
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("%s = %v, want empty", dir, names)
	}
}

var nowFixed = time.UnixMilli(1700000000000)

var storedPattern = regexp.MustCompile(`^[0-9a-f]{64}_[0-9]{13}\.jpg$`)

func TestIngest_Success(t *testing.T) {
	env := setupService(t)
	data := encodeImage(t, "jpeg", 640, 480, 1)

	a, staged, err := env.ingest(t, data, "Holiday.JPG", "image/jpeg", "")
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	if a.Folder != filesystem.DefaultFolder {
		t.Errorf("Folder = %q, want %q", a.Folder, filesystem.DefaultFolder)
	}
	if !storedPattern.MatchString(a.StoredFilename) {
		t.Errorf("StoredFilename = %q, want <hash>_<millis>.jpg", a.StoredFilename)
	}
	if a.ContentHash != media.HashBytes(data) {
		t.Errorf("ContentHash = %s, want digest of uploaded bytes", a.ContentHash)
	}
	if a.AbsolutePath != env.layout.AssetPath(a.Folder, a.StoredFilename) {
		t.Errorf("AbsolutePath = %s", a.AbsolutePath)
	}
	if a.SizeBytes != int64(len(data)) {
		t.Errorf("SizeBytes = %d, want %d", a.SizeBytes, len(data))
	}
	if a.OriginalName != "Holiday.JPG" || a.MimeType != "image/jpeg" {
		t.Errorf("OriginalName/MimeType = %s/%s", a.OriginalName, a.MimeType)
	}
	if a.Metadata == nil || a.Metadata.Width == nil || *a.Metadata.Width != 640 {
		t.Errorf("Metadata = %+v, want width 640", a.Metadata)
	}

	stored, err := os.ReadFile(a.AbsolutePath)
	if err != nil {
		t.Fatalf("stored file: %v", err)
	}
	if !bytes.Equal(stored, data) {
		t.Error("stored bytes differ from the upload")
	}
	dims, err := media.GetImageDimensions(a.ThumbnailPath)
	if err != nil {
		t.Fatalf("thumbnail: %v", err)
	}
	if dims.Width != 300 || dims.Height != 300 {
		t.Errorf("thumbnail = %dx%d, want 300x300", dims.Width, dims.Height)
	}

	assertMissing(t, staged)
	assertEmptyDir(t, env.layout.StagingDir)

	got, err := env.svc.Get(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ContentHash != a.ContentHash {
		t.Error("catalog record does not match returned asset")
	}
}

func TestIngest_InvalidImage(t *testing.T) {
	env := setupService(t)

	_, staged, err := env.ingest(t, []byte("not an image at all"), "fake.jpg", "image/jpeg", "")
	assertCode(t, err, CodeInvalidImage)

	assertMissing(t, staged)
	assertEmptyDir(t, env.layout.FolderDir(filesystem.DefaultFolder))
}

func TestIngest_OversizedImageRejectedBeforeDecode(t *testing.T) {
	env := setupService(t)

	// Rewrite the IHDR of a real PNG to declare 100000x100000 pixels.
	data := encodeImage(t, "png", 1, 1, 3)
	binary.BigEndian.PutUint32(data[16:20], 100_000)
	binary.BigEndian.PutUint32(data[20:24], 100_000)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))

	_, staged, err := env.ingest(t, data, "bomb.png", "image/png", "")
	ie := assertCode(t, err, CodeValidation)
	if !errors.Is(ie, media.ErrImageTooLarge) {
		t.Errorf("error = %v, want ErrImageTooLarge", ie)
	}
	assertMissing(t, staged)
	assertEmptyDir(t, env.layout.FolderDir(filesystem.DefaultFolder))
}

func TestIngest_InvalidFolder(t *testing.T) {
	env := setupService(t)
	data := encodeImage(t, "jpeg", 32, 32, 2)

	_, staged, err := env.ingest(t, data, "a.jpg", "image/jpeg", "../etc")
	assertCode(t, err, CodeValidation)
	assertMissing(t, staged)
}

func TestIngest_Duplicate(t *testing.T) {
	env := setupService(t)
	data := encodeImage(t, "png", 64, 64, 3)

	first, _, err := env.ingest(t, data, "first.png", "image/png", "albums")
	if err != nil {
		t.Fatalf("first Ingest() error = %v", err)
	}

	_, staged, err := env.ingest(t, data, "copy.png", "image/png", "other")
	ie := assertCode(t, err, CodeDuplicateImage)
	if ie.ExistingID != first.ID {
		t.Errorf("ExistingID = %q, want %q", ie.ExistingID, first.ID)
	}

	assertMissing(t, staged)
	assertEmptyDir(t, env.layout.FolderDir("other"))
}

func TestIngest_DuplicateAfterDelete(t *testing.T) {
	env := setupService(t)
	data := encodeImage(t, "png", 16, 16, 4)

	first, _, err := env.ingest(t, data, "a.png", "image/png", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := env.svc.Delete(context.Background(), first.ID); err != nil {
		t.Fatal(err)
	}

	if _, _, err := env.ingest(t, data, "a.png", "image/png", ""); err != nil {
		t.Errorf("re-upload after delete error = %v, want success", err)
	}
}

type brokenThumbnailer struct{}

func (brokenThumbnailer) Ext() string { return ".jpg" }
func (brokenThumbnailer) Generate(_, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	// Leave a partial file behind the way a crashed encoder would.
	if err := os.WriteFile(dst, []byte("partial"), 0o644); err != nil {
		return err
	}
	return media.ErrThumbnail
}

func TestIngest_ThumbnailFailure(t *testing.T) {
	env := setupService(t)
	env.svc.thumbs = brokenThumbnailer{}

	_, staged, err := env.ingest(t, encodeImage(t, "jpeg", 40, 40, 5), "a.jpg", "image/jpeg", "")
	assertCode(t, err, CodeThumbnailFailed)

	assertMissing(t, staged)
	assertEmptyDir(t, filepath.Join(env.layout.FolderDir(filesystem.DefaultFolder), filesystem.ThumbnailDirName))
}

// flakyCatalog wraps a real database and injects failures.
type flakyCatalog struct {
	*database.Database
	insertErr   error
	hideLookups int
}

func (c *flakyCatalog) InsertAsset(ctx context.Context, a *database.Asset) error {
	if c.insertErr != nil {
		return c.insertErr
	}
	return c.Database.InsertAsset(ctx, a)
}

func (c *flakyCatalog) FindByHash(ctx context.Context, hash string) (*database.Asset, error) {
	if c.hideLookups > 0 {
		c.hideLookups--
		return nil, database.ErrNotFound
	}
	return c.Database.FindByHash(ctx, hash)
}

func TestIngest_PersistFailureRollsBackFiles(t *testing.T) {
	env := setupService(t)
	env.svc.catalog = &flakyCatalog{Database: env.db, insertErr: errors.New("disk I/O error")}

	_, staged, err := env.ingest(t, encodeImage(t, "jpeg", 50, 50, 6), "a.jpg", "image/jpeg", "keep")
	assertCode(t, err, CodePersistFailed)

	assertMissing(t, staged)
	folder := env.layout.FolderDir("keep")
	assertEmptyDir(t, filepath.Join(folder, filesystem.ThumbnailDirName))
	entries, _ := os.ReadDir(folder)
	for _, e := range entries {
		if !e.IsDir() {
			t.Errorf("relocated file %s left behind", e.Name())
		}
	}
}

func TestIngest_ConcurrentDuplicateCaughtByConstraint(t *testing.T) {
	env := setupService(t)
	data := encodeImage(t, "jpeg", 48, 48, 7)

	first, _, err := env.ingest(t, data, "a.jpg", "image/jpeg", "")
	if err != nil {
		t.Fatal(err)
	}

	// The lookup misses as if the first upload had not committed yet.
	env.svc.catalog = &flakyCatalog{Database: env.db, hideLookups: 1}
	_, staged, err := env.ingest(t, data, "b.jpg", "image/jpeg", "race")
	ie := assertCode(t, err, CodeDuplicateImage)
	if ie.ExistingID != first.ID {
		t.Errorf("ExistingID = %q, want %q", ie.ExistingID, first.ID)
	}

	assertMissing(t, staged)
	entries, _ := os.ReadDir(env.layout.FolderDir("race"))
	for _, e := range entries {
		if !e.IsDir() {
			t.Errorf("relocated file %s left behind", e.Name())
		}
	}
}

func TestIngest_DuplicateRaceKeepsWinnerFiles(t *testing.T) {
	env := setupService(t)
	env.svc.now = func() time.Time { return nowFixed }
	data := encodeImage(t, "jpeg", 48, 48, 8)

	first, _, err := env.ingest(t, data, "a.jpg", "image/jpeg", "")
	if err != nil {
		t.Fatal(err)
	}
	want := map[string][]byte{}
	for _, p := range []string{first.AbsolutePath, first.ThumbnailPath} {
		b, err := os.ReadFile(p)
		if err != nil {
			t.Fatal(err)
		}
		want[p] = b
	}

	// Same bytes, same folder, same millisecond: both runs derive one name.
	env.svc.catalog = &flakyCatalog{Database: env.db, hideLookups: 1}
	_, staged, err := env.ingest(t, data, "b.jpg", "image/jpeg", "")
	ie := assertCode(t, err, CodeDuplicateImage)
	if ie.ExistingID != first.ID {
		t.Errorf("ExistingID = %q, want %q", ie.ExistingID, first.ID)
	}
	assertMissing(t, staged)

	for p, b := range want {
		got, err := os.ReadFile(p)
		if err != nil {
			t.Errorf("winner file gone: %v", err)
			continue
		}
		if !bytes.Equal(got, b) {
			t.Errorf("winner file %s was overwritten", filepath.Base(p))
		}
	}
	if _, err := env.svc.Get(context.Background(), first.ID); err != nil {
		t.Errorf("Get(winner) error = %v", err)
	}
}

func TestIngest_InFlightNameIsNotTouched(t *testing.T) {
	env := setupService(t)
	env.svc.now = func() time.Time { return nowFixed }
	data := encodeImage(t, "jpeg", 40, 40, 9)

	hash := media.HashBytes(data)
	stored := storedName("a.jpg", "image/jpeg", hash, nowFixed)
	finalPath := env.layout.AssetPath(filesystem.DefaultFolder, stored)
	if err := filesystem.ClaimPath(finalPath); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(finalPath, []byte("in flight"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, staged, err := env.ingest(t, data, "a.jpg", "image/jpeg", "")
	ie := assertCode(t, err, CodeDuplicateImage)
	if ie.ExistingID != "" {
		t.Errorf("ExistingID = %q, want empty while the other upload is uncommitted", ie.ExistingID)
	}
	assertMissing(t, staged)

	got, err := os.ReadFile(finalPath)
	if err != nil || string(got) != "in flight" {
		t.Errorf("in-flight file = %q, %v", got, err)
	}
	assertMissing(t, env.layout.ThumbnailPath(filesystem.DefaultFolder, stored, env.svc.thumbs.Ext()))
}

func TestStoredName(t *testing.T) {
	a := storedName("photo.PNG", "image/png", "abc", nowFixed)
	if a != "abc_1700000000000.png" {
		t.Errorf("storedName() = %q", a)
	}
	b := storedName("blob", "image/jpeg", "abc", nowFixed)
	if b != "abc_1700000000000.jpg" {
		t.Errorf("storedName() without extension = %q", b)
	}
}

type closedGate struct{ err error }

func (g closedGate) Wait(context.Context) error { return g.err }

func TestIngest_GateRejects(t *testing.T) {
	env := setupService(t)
	env.svc.SetGate(closedGate{err: context.DeadlineExceeded})
	data := encodeImage(t, "jpeg", 32, 32, 9)

	_, staged, err := env.ingest(t, data, "a.jpg", "image/jpeg", "")
	ie := assertCode(t, err, CodeUnavailable)
	if !errors.Is(ie, context.DeadlineExceeded) {
		t.Errorf("error = %v, want wrapped deadline", ie)
	}
	assertMissing(t, staged)

	env.svc.SetGate(closedGate{})
	if _, _, err := env.ingest(t, data, "a.jpg", "image/jpeg", ""); err != nil {
		t.Errorf("Ingest() with open gate error = %v", err)
	}
}

func TestIngest_DecodeLimit(t *testing.T) {
	env := setupService(t)
	env.svc.SetDecodeLimit(1)
	data := encodeImage(t, "jpeg", 32, 32, 15)

	// Hold the only slot so the next run has to wait.
	if !env.svc.decodes.TryAcquire(1) {
		t.Fatal("slot unavailable before any run")
	}
	staged := env.stage(t, data, "a.jpg")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := env.svc.Ingest(ctx, Upload{StagedPath: staged, OriginalName: "a.jpg", MimeType: "image/jpeg"})
	assertCode(t, err, CodeUnavailable)
	assertMissing(t, staged)

	env.svc.decodes.Release(1)
	if _, _, err := env.ingest(t, data, "a.jpg", "image/jpeg", ""); err != nil {
		t.Fatalf("Ingest() with free slot error = %v", err)
	}
	if !env.svc.decodes.TryAcquire(1) {
		t.Error("Ingest() did not release its decode slot")
	}
}
