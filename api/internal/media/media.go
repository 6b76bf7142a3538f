package media

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"  // DecodeConfig
	_ "image/jpeg" // DecodeConfig
	_ "image/png"  // DecodeConfig
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"otk-bot/api/internal/apperr"
)

const mb = 1024 * 1024

var (
	audioExt = map[string]bool{".ogg": true, ".oga": true, ".mp3": true, ".wav": true, ".m4a": true, ".aac": true, ".flac": true}
	imageExt = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".gif": true}
)

type Limits struct {
	MaxImageMB     int
	MaxImageWidth  int
	MaxImageHeight int
	MaxAudioMB     int
	MaxAudioMin    int
}

type Dirs struct {
	Photos string
	Audio  string
	Temp   string
}

// Cache: файловый кэш фото и голосовых.
type Cache struct {
	dirs Dirs
	lim  Limits
	now  func() time.Time
	log  *zap.Logger
}

func New(dirs Dirs, lim Limits, log *zap.Logger) (*Cache, error) {
	if log == nil {
		log = zap.NewNop()
	}
	for _, d := range []string{dirs.Photos, dirs.Audio, dirs.Temp} {
		if d == "" {
			continue
		}
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("media dir %s: %w", d, err)
		}
	}
	return &Cache{dirs: dirs, lim: lim, now: time.Now, log: log.Named("media")}, nil
}

func (c *Cache) Limits() Limits { return c.lim }

// CheckImageSize: до скачивания, по метаданным Telegram.
func (c *Cache) CheckImageSize(size int64) error {
	return checkSize(size, c.lim.MaxImageMB)
}

func (c *Cache) CheckAudioSize(size int64) error {
	return checkSize(size, c.lim.MaxAudioMB)
}

func checkSize(size int64, limitMB int) error {
	if size > int64(limitMB)*mb {
		return apperr.Validation("❌ Размер файла %.1fMB превышает лимит %dMB", float64(size)/mb, limitMB)
	}
	return nil
}

// CheckAudioDuration: seconds из метаданных голосового сообщения.
func (c *Cache) CheckAudioDuration(seconds int) error {
	if seconds > c.lim.MaxAudioMin*60 {
		return apperr.Validation("❌ Длительность %.1f мин превышает лимит %d мин", float64(seconds)/60, c.lim.MaxAudioMin)
	}
	return nil
}

func (c *Cache) SaveAudio(data []byte, filename string, userID int64) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !audioExt[ext] {
		return "", apperr.Validation("❌ Неподдерживаемый формат аудио: %s", ext)
	}
	if err := c.CheckAudioSize(int64(len(data))); err != nil {
		return "", err
	}
	return c.save(c.dirs.Audio, data, ext, userID)
}

func (c *Cache) SavePhoto(data []byte, filename string, userID int64) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !imageExt[ext] {
		return "", apperr.Validation("❌ Неподдерживаемый формат изображения: %s", ext)
	}
	if err := c.CheckImageSize(int64(len(data))); err != nil {
		return "", err
	}
	return c.save(c.dirs.Photos, data, ext, userID)
}

// имя: 20060102_150405_<uid>_<md5[:8]><ext>
func (c *Cache) save(dir string, data []byte, ext string, userID int64) (string, error) {
	sum := md5.Sum(data)
	name := fmt.Sprintf("%s_%d_%s%s", c.now().Format("20060102_150405"), userID, hex.EncodeToString(sum[:])[:8], ext)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", apperr.New(apperr.KindInternal, "save media", err)
	}
	c.log.Info("saved", zap.String("path", path), zap.Float64("size_mb", round2(float64(len(data))/mb)))
	return path, nil
}

type ImageInfo struct {
	Width  int
	Height int
	Format string
	SizeMB float64
}

// ValidateImage проверяет размер и разрешение сохранённого файла.
// Разрешение webp не проверяется: декодер не зарегистрирован.
func (c *Cache) ValidateImage(path string) (ImageInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ImageInfo{}, apperr.New(apperr.KindInternal, "read image", err)
	}
	info := ImageInfo{SizeMB: round2(float64(len(data)) / mb)}
	if err := c.CheckImageSize(int64(len(data))); err != nil {
		return info, err
	}
	if strings.EqualFold(filepath.Ext(path), ".webp") {
		info.Format = "webp"
		return info, nil
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return info, apperr.Validation("❌ Не удалось прочитать изображение. Отправьте фото в формате JPG или PNG.")
	}
	info.Width, info.Height, info.Format = cfg.Width, cfg.Height, format
	if cfg.Width > c.lim.MaxImageWidth || cfg.Height > c.lim.MaxImageHeight {
		return info, apperr.Validation("❌ Разрешение %dx%d превышает лимит %dx%d",
			cfg.Width, cfg.Height, c.lim.MaxImageWidth, c.lim.MaxImageHeight)
	}
	return info, nil
}

// Cleanup удаляет файлы кэша старше maxAge во всех каталогах.
func (c *Cache) Cleanup(maxAge time.Duration) int {
	cutoff := c.now().Add(-maxAge)
	removed := 0
	for _, dir := range []string{c.dirs.Temp, c.dirs.Photos, c.dirs.Audio} {
		if dir == "" {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			info, err := e.Info()
			if err != nil || !info.ModTime().Before(cutoff) {
				continue
			}
			if os.Remove(filepath.Join(dir, e.Name())) == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		c.log.Info("cleanup", zap.Int("removed", removed))
	}
	return removed
}

type DirStats struct {
	Files  int     `json:"files"`
	SizeMB float64 `json:"size_mb"`
}

type Stats struct {
	Audio  DirStats `json:"audio"`
	Photos DirStats `json:"photos"`
	Temp   DirStats `json:"temp"`
}

func (c *Cache) Stats() Stats {
	return Stats{
		Audio:  dirStats(c.dirs.Audio),
		Photos: dirStats(c.dirs.Photos),
		Temp:   dirStats(c.dirs.Temp),
	}
}

func dirStats(dir string) DirStats {
	var st DirStats
	if dir == "" {
		return st
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return st
	}
	var size int64
	for _, e := range entries {
		if info, err := e.Info(); err == nil && info.Mode().IsRegular() {
			st.Files++
			size += info.Size()
		}
	}
	st.SizeMB = round2(float64(size) / mb)
	return st
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
