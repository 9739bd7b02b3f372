package veo

import (
	"archive/zip"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/vers-project/veobuilder/errcode"
)

// utf8Flag is the ZIP general-purpose bit flag 11 (language encoding),
// which tells an extracting tool that the entry name and comment are
// UTF-8 rather than the historical CP437/local-code-page default.
const utf8Flag = 0x800

// unicodePathExtraID is the Info-ZIP Unicode Path Extra Field tag
// (0x7075), carried alongside the UTF-8 flag for tools that still read
// the legacy name field and only consult the extra field for the
// Unicode form.
const unicodePathExtraID = 0x7075

// writeArchive walks stagingDir (its own base name becomes the
// archive's single top-level directory), then appends every external
// content file under its registered destination, deduplicating by
// destination. Per spec.md §4.7 step 7 / §6.
func writeArchive(zipPath, stagingDir string, external []ExternalFile) error {
	out, err := os.Create(zipPath)
	if err != nil {
		return errcode.Wrapf(errcode.CodeVEOZipFailed, errcode.Recoverable,
			moduleName, "writeArchive", err, "cannot create %s", zipPath)
	}
	defer out.Close()

	zw := zip.NewWriter(out)

	root := filepath.Base(stagingDir)
	seen := make(map[string]bool)

	err = filepath.Walk(stagingDir, func(path string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if fi.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(stagingDir, path)
		if err != nil {
			return err
		}
		archiveName := filepath.ToSlash(filepath.Join(root, rel))
		if seen[archiveName] {
			return nil
		}
		seen[archiveName] = true
		return addFile(zw, path, archiveName, fi)
	})
	if err != nil {
		zw.Close()
		return errcode.Wrapf(errcode.CodeVEOZipFailed, errcode.Recoverable,
			moduleName, "writeArchive", err, "walk of %s failed", stagingDir)
	}

	for _, ext := range external {
		archiveName := filepath.ToSlash(filepath.Join(root, ext.ArchivePath))
		if seen[archiveName] {
			continue
		}
		seen[archiveName] = true
		fi, err := os.Stat(ext.SourcePath)
		if err != nil {
			zw.Close()
			return errcode.Wrapf(errcode.CodeVEOZipFailed, errcode.Recoverable,
				moduleName, "writeArchive", err, "cannot stat external content file %s", ext.SourcePath)
		}
		if err := addFile(zw, ext.SourcePath, archiveName, fi); err != nil {
			zw.Close()
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return errcode.Wrapf(errcode.CodeVEOZipFailed, errcode.Recoverable,
			moduleName, "writeArchive", err, "cannot close %s", zipPath)
	}
	return nil
}

func addFile(zw *zip.Writer, sourcePath, archiveName string, fi os.FileInfo) error {
	header, err := zip.FileInfoHeader(fi)
	if err != nil {
		return errcode.Wrapf(errcode.CodeVEOZipFailed, errcode.Recoverable,
			moduleName, "addFile", err, "cannot build header for %s", sourcePath)
	}
	header.Name = archiveName
	header.Method = zip.Deflate
	header.Modified = fi.ModTime()
	header.Flags |= utf8Flag
	header.Extra = append(header.Extra, unicodePathExtra(archiveName)...)

	w, err := zw.CreateHeader(header)
	if err != nil {
		return errcode.Wrapf(errcode.CodeVEOZipFailed, errcode.Recoverable,
			moduleName, "addFile", err, "cannot add entry %s", archiveName)
	}

	in, err := os.Open(sourcePath)
	if err != nil {
		return errcode.Wrapf(errcode.CodeVEOZipFailed, errcode.Recoverable,
			moduleName, "addFile", err, "cannot open %s", sourcePath)
	}
	defer in.Close()

	if _, err := io.Copy(w, in); err != nil {
		return errcode.Wrapf(errcode.CodeVEOZipFailed, errcode.Recoverable,
			moduleName, "addFile", err, "cannot write entry %s", archiveName)
	}
	return nil
}

// unicodePathExtra builds an Info-ZIP Unicode Path Extra Field: a
// 2-byte tag, 2-byte length, 1-byte version, a CRC32 of the name as it
// would appear in the legacy name field, and the UTF-8 bytes of the
// name. Since the legacy name field here already holds the UTF-8 bytes,
// the CRC is computed over the same bytes.
func unicodePathExtra(name string) []byte {
	nameBytes := []byte(name)
	crc := crc32.ChecksumIEEE(nameBytes)

	payload := make([]byte, 5+len(nameBytes))
	payload[0] = 1 // version
	payload[1] = byte(crc)
	payload[2] = byte(crc >> 8)
	payload[3] = byte(crc >> 16)
	payload[4] = byte(crc >> 24)
	copy(payload[5:], nameBytes)

	field := make([]byte, 4+len(payload))
	field[0] = byte(unicodePathExtraID)
	field[1] = byte(unicodePathExtraID >> 8)
	length := len(payload)
	field[2] = byte(length)
	field[3] = byte(length >> 8)
	copy(field[4:], payload)
	return field
}
