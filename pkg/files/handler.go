package files

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/printq/printq/pkg/models"
)

// Slicers embed the estimated print time as comments; these cover the
// integer-seconds styles (Cura, Bambu Studio) and the d/h/m/s style
// (PrusaSlicer, OrcaSlicer).
var gcodeTimePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i);\s*TIME:(\d+)`),
	regexp.MustCompile(`(?i);\s*estimated_time[_:]?\s*(\d+)`),
	regexp.MustCompile(`(?i);\s*print_time[_:]?\s*(\d+)`),
}

var timeHMSPattern = regexp.MustCompile(
	`(?i);\s*(?:estimated printing time.*?[=:]|model printing time[=:]|total estimated time[=:])\s*` +
		`(?:(\d+)d\s*)?(?:(\d+)h\s*)?(?:(\d+)m\s*)?(?:(\d+)s)?`)

var plateGcodePattern = regexp.MustCompile(`(?i)plate_(\d+)\.gcode`)

// Only the head of the file is scanned; timing comments sit in the
// slicer preamble.
const timeScanLines = 500

// Handler turns uploaded 3MF and gcode files into plates, extracting
// per-plate gcode, estimated durations and thumbnails into well-known
// directories it owns.
type Handler struct {
	storageDir   string // original uploads
	gcodeDir     string // extracted per-plate gcode
	thumbnailDir string // extracted plate thumbnails
}

// NewHandler creates a handler rooted at dataDir, creating its
// directories as needed.
func NewHandler(dataDir string) (*Handler, error) {
	h := &Handler{
		storageDir:   filepath.Join(dataDir, "files"),
		gcodeDir:     filepath.Join(dataDir, "gcode"),
		thumbnailDir: filepath.Join(dataDir, "thumbnails"),
	}
	for _, dir := range []string{h.storageDir, h.gcodeDir, h.thumbnailDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return h, nil
}

// Process dispatches on the filename extension. Unsupported types and
// files that yield no plates are reported as errors; nothing is
// inserted for them.
func (h *Handler) Process(content []byte, projectID, filename string) ([]*models.Plate, error) {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".3mf"):
		return h.process3MF(content, projectID, filename)
	case strings.HasSuffix(lower, ".gcode"):
		return h.processGcode(content, projectID, filename)
	default:
		return nil, fmt.Errorf("unsupported file type: %s", filename)
	}
}

// process3MF walks the archive for per-plate gcode entries. A 3MF is a
// zip; sliced ones carry Metadata/plate_N.gcode plus a JSON sidecar
// and thumbnail per plate.
func (h *Handler) process3MF(content []byte, projectID, filename string) ([]*models.Plate, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("invalid 3mf file %s: %w", filename, err)
	}

	if err := h.saveSource(content, filename); err != nil {
		return nil, err
	}

	var plates []*models.Plate
	for _, entry := range findGcodeEntries(zr) {
		gcodeContent, err := readZipFile(zr, entry.path)
		if err != nil {
			log.Printf("[FileHandler] Could not read gcode %s: %v", entry.path, err)
			continue
		}

		gcodeID := fmt.Sprintf("%s_%d", projectID, entry.plateNumber)
		if err := h.saveGcode(gcodeContent, gcodeID); err != nil {
			return nil, err
		}

		plate := models.NewPlate(
			projectID,
			filename,
			entry.plateNumber,
			extractPlateName(zr, entry.plateNumber),
			gcodeID,
			parseTimeFromGcode(string(gcodeContent)),
		)

		if url := h.extractThumbnail(zr, entry.plateNumber, plate.ID); url != "" {
			plate.ThumbnailPath = url
		}
		plates = append(plates, plate)
	}

	if len(plates) == 0 {
		return nil, fmt.Errorf("no printable plates found in %s", filename)
	}
	return plates, nil
}

// processGcode wraps a bare gcode upload as a single plate.
func (h *Handler) processGcode(content []byte, projectID, filename string) ([]*models.Plate, error) {
	gcodeID := projectID + "_1"
	if err := h.saveGcode(content, gcodeID); err != nil {
		return nil, err
	}
	if err := h.saveSource(content, filename); err != nil {
		return nil, err
	}

	name := strings.TrimSuffix(filename, filepath.Ext(filename))
	plate := models.NewPlate(projectID, filename, 1, name, gcodeID, parseTimeFromGcode(string(content)))
	return []*models.Plate{plate}, nil
}

// DeletePlateFiles removes a plate's gcode and thumbnail. Idempotent:
// missing files are not an error.
func (h *Handler) DeletePlateFiles(plate *models.Plate) error {
	gcode := filepath.Join(h.gcodeDir, plate.GcodePath+".gcode")
	if err := os.Remove(gcode); err != nil && !os.IsNotExist(err) {
		return err
	}
	if plate.ThumbnailPath != "" {
		thumb := filepath.Join(h.thumbnailDir, plate.ID+".png")
		if err := os.Remove(thumb); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// GcodePath returns the on-disk path for an extracted gcode id.
func (h *Handler) GcodePath(gcodeID string) string {
	return filepath.Join(h.gcodeDir, gcodeID+".gcode")
}

// ThumbnailDir returns the directory thumbnails are extracted to.
func (h *Handler) ThumbnailDir() string {
	return h.thumbnailDir
}

func (h *Handler) saveSource(content []byte, filename string) error {
	path := filepath.Join(h.storageDir, filepath.Base(filename))
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("failed to store upload %s: %w", filename, err)
	}
	return nil
}

func (h *Handler) saveGcode(content []byte, gcodeID string) error {
	if err := os.WriteFile(h.GcodePath(gcodeID), content, 0o644); err != nil {
		return fmt.Errorf("failed to store gcode %s: %w", gcodeID, err)
	}
	return nil
}

// extractThumbnail copies the plate's embedded PNG, trying the two
// locations slicers use, and returns its serving path.
func (h *Handler) extractThumbnail(zr *zip.Reader, plateNumber int, plateID string) string {
	candidates := []string{
		fmt.Sprintf("Metadata/plate_%d.png", plateNumber),
		fmt.Sprintf(".thumbnails/plate_%d.png", plateNumber),
	}
	for _, candidate := range candidates {
		data, err := readZipFile(zr, candidate)
		if err != nil {
			continue
		}
		out := filepath.Join(h.thumbnailDir, plateID+".png")
		if err := os.WriteFile(out, data, 0o644); err != nil {
			log.Printf("[FileHandler] Failed to write thumbnail %s: %v", out, err)
			return ""
		}
		return "/thumbnails/" + plateID + ".png"
	}
	return ""
}

type gcodeEntry struct {
	plateNumber int
	path        string
}

// findGcodeEntries locates per-plate gcode inside the archive,
// preferring Metadata/ copies, and falls back to the first *.gcode
// entry as plate 1.
func findGcodeEntries(zr *zip.Reader) []gcodeEntry {
	found := map[int]string{}
	for _, f := range zr.File {
		m := plateGcodePattern.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		num, _ := strconv.Atoi(m[1])
		if _, ok := found[num]; !ok || strings.HasPrefix(f.Name, "Metadata/") {
			found[num] = f.Name
		}
	}

	if len(found) == 0 {
		for _, f := range zr.File {
			if strings.HasSuffix(f.Name, ".gcode") {
				found[1] = f.Name
				break
			}
		}
	}

	entries := make([]gcodeEntry, 0, len(found))
	for num, path := range found {
		entries = append(entries, gcodeEntry{plateNumber: num, path: path})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].plateNumber < entries[j].plateNumber
	})
	return entries
}

// extractPlateName reads the plate's JSON sidecar for the first object
// name, defaulting to "Plate N".
func extractPlateName(zr *zip.Reader, plateNumber int) string {
	fallback := fmt.Sprintf("Plate %d", plateNumber)

	data, err := readZipFile(zr, fmt.Sprintf("Metadata/plate_%d.json", plateNumber))
	if err != nil {
		return fallback
	}

	var meta struct {
		BboxObjects []struct {
			Name string `json:"name"`
		} `json:"bbox_objects"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fallback
	}
	if len(meta.BboxObjects) > 0 && meta.BboxObjects[0].Name != "" {
		return meta.BboxObjects[0].Name
	}
	return fallback
}

func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	f, err := zr.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// parseTimeFromGcode scans the head of a gcode file for a slicer
// timing comment and returns the estimate in seconds, 0 if none.
func parseTimeFromGcode(content string) int {
	lines := strings.Split(content, "\n")
	if len(lines) > timeScanLines {
		lines = lines[:timeScanLines]
	}

	for _, line := range lines {
		if m := timeHMSPattern.FindStringSubmatch(line); m != nil {
			days := atoiOrZero(m[1])
			hours := atoiOrZero(m[2])
			minutes := atoiOrZero(m[3])
			seconds := atoiOrZero(m[4])
			return days*86400 + hours*3600 + minutes*60 + seconds
		}
		for _, pattern := range gcodeTimePatterns {
			if m := pattern.FindStringSubmatch(line); m != nil {
				return atoiOrZero(m[1])
			}
		}
	}
	return 0
}

func atoiOrZero(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
