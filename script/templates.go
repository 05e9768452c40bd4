package script

import (
	"fmt"
	"strings"

	"github.com/pithecene-io/opfsx/inject"
	"github.com/pithecene-io/opfsx/types"
)

// body joins the preamble with the operation statements.
func body(lines ...string) string {
	var b strings.Builder
	b.WriteString(Preamble)
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return b.String()
}

func lit(s string) string {
	return inject.Quote(s)
}

// List returns a body listing the immediate children of a directory.
func List(path string) string {
	path = types.NormalizePath(path)
	return body(
		`const path = `+lit(path)+`;`,
		`const dir = await opfsResolveDir(path);`,
		`const children = await opfsEntries(dir);`,
		`const files = [];`,
		`for (let i = 0; i < children.length; i++) {`,
		`  const name = children[i][0];`,
		`  const handle = children[i][1];`,
		`  const entry = { name: name, kind: handle.kind, path: path ? path + "/" + name : name };`,
		`  if (handle.kind === "file") {`,
		`    try {`,
		`      const file = await handle.getFile();`,
		`      entry.size = file.size;`,
		`      entry.lastModified = file.lastModified;`,
		`    } catch (e) {}`,
		`  }`,
		`  files.push(entry);`,
		`}`,
		`files.sort(function (a, b) {`,
		`  if (a.kind !== b.kind) return a.kind === "directory" ? -1 : 1;`,
		`  return a.name.localeCompare(b.name);`,
		`});`,
		`return files;`,
	)
}

// Read returns a body reading a file as text, or a placeholder string when
// the file is too large or not text.
func Read(path string) string {
	return body(
		`const opened = await opfsOpenFile(`+lit(types.NormalizePath(path))+`);`,
		`const file = opened.file;`,
		`if (file.size > MAX_TEXT_BYTES) {`,
		`  return PLACEHOLDER + " File is too large to preview (" + opfsMB(file.size) + " MB). Please download to view.";`,
		`}`,
		`if (opfsIsText(opened.name, file.type)) return await file.text();`,
		`return PLACEHOLDER + " Type: " + (file.type || "unknown") + ", Size: " + file.size + " bytes.";`,
	)
}

// ReadWithMetadata returns a body producing a FileContent object.
func ReadWithMetadata(path string) string {
	return body(
		`const opened = await opfsOpenFile(`+lit(types.NormalizePath(path))+`);`,
		`const file = opened.file;`,
		`const mimeType = opfsMime(opened.name, file.type);`,
		`if (opfsIsImage(opened.name, file.type)) {`,
		`  if (file.size <= MAX_IMAGE_BYTES) {`,
		`    const bytes = new Uint8Array(await file.arrayBuffer());`,
		`    return { content: "data:" + mimeType + ";base64," + opfsBytesToBase64(bytes), mimeType: mimeType, size: file.size, isBase64: true };`,
		`  }`,
		`  return { content: PLACEHOLDER + " Image is too large to preview (" + opfsMB(file.size) + " MB).", mimeType: mimeType, size: file.size, isBase64: false, tooLarge: true };`,
		`}`,
		`if (opfsIsText(opened.name, file.type)) {`,
		`  if (file.size <= MAX_TEXT_BYTES) {`,
		`    return { content: await file.text(), mimeType: mimeType, size: file.size, isBase64: false };`,
		`  }`,
		`  return { content: PLACEHOLDER + " File is too large to preview (" + opfsMB(file.size) + " MB). Please download to view.", mimeType: mimeType, size: file.size, isBase64: false, tooLarge: true };`,
		`}`,
		`return { content: PLACEHOLDER + " Type: " + (file.type || "unknown") + ", Size: " + file.size + " bytes.", mimeType: mimeType, size: file.size, isBase64: false, binary: true };`,
	)
}

// ReadBase64 returns a body producing the raw file bytes as plain base64,
// bounded by MaxTransferBytes.
func ReadBase64(path string) string {
	return body(
		`const opened = await opfsOpenFile(`+lit(types.NormalizePath(path))+`);`,
		`const file = opened.file;`,
		`if (file.size > MAX_TRANSFER_BYTES) {`,
		`  throw new Error("File is too large to transfer (" + opfsMB(file.size) + " MB).");`,
		`}`,
		`const bytes = new Uint8Array(await file.arrayBuffer());`,
		`return { content: opfsBytesToBase64(bytes), mimeType: opfsMime(opened.name, file.type), size: file.size, isBase64: true };`,
	)
}

// Write returns a body that creates or truncates a file and writes content.
// When isBinary is set, content is base64 and is decoded before writing.
func Write(path, content string, isBinary bool) string {
	return body(
		`const target = opfsSplit(`+lit(types.NormalizePath(path))+`);`,
		`const content = `+lit(content)+`;`,
		fmt.Sprintf(`const isBinary = %t;`, isBinary),
		`if (!target.name) throw new Error("Path required");`,
		`const dir = await opfsResolveDir(target.dir);`,
		`const handle = await dir.getFileHandle(target.name, { create: true });`,
		`const writable = await handle.createWritable();`,
		`try {`,
		`  await writable.write(isBinary ? opfsBase64ToBytes(content) : content);`,
		`} catch (e) {`,
		`  try { await writable.abort(); } catch (ignored) {}`,
		`  throw e;`,
		`}`,
		`await writable.close();`,
		`return null;`,
	)
}

// Rename returns a body renaming an entry within its directory.
func Rename(path, newName string) string {
	return body(
		`const target = opfsSplit(`+lit(types.NormalizePath(path))+`);`,
		`const newName = `+lit(newName)+`;`,
		`if (!target.name || !newName) throw new Error("Path and new name required");`,
		`if (newName.indexOf("/") >= 0) throw new Error("New name must not contain '/'");`,
		`const dir = await opfsResolveDir(target.dir);`,
		`const handle = await opfsGetEntry(dir, target.name);`,
		`if (newName === target.name) return { atomic: true };`,
		`return await opfsMove(dir, target.name, handle, dir, newName);`,
	)
}

// ErrMsgMoveIntoSelf rejects moving a directory below itself.
const ErrMsgMoveIntoSelf = "Cannot move a directory into itself"

// Move returns a body relocating an entry to a new path.
func Move(oldPath, newPath string) string {
	return body(
		`const srcPath = `+lit(types.NormalizePath(oldPath))+`;`,
		`const destPath = `+lit(types.NormalizePath(newPath))+`;`,
		`const source = opfsSplit(srcPath);`,
		`const dest = opfsSplit(destPath);`,
		`if (!source.name || !dest.name) throw new Error("Old path and new path required");`,
		`const srcDir = await opfsResolveDir(source.dir);`,
		`const handle = await opfsGetEntry(srcDir, source.name);`,
		`if (source.dir === dest.dir && source.name === dest.name) return { atomic: true };`,
		`if (handle.kind === "directory" && destPath.indexOf(srcPath + "/") === 0) {`,
		`  throw new Error("`+ErrMsgMoveIntoSelf+`");`,
		`}`,
		`const destDir = await opfsResolveDir(dest.dir);`,
		`return await opfsMove(srcDir, source.name, handle, destDir, dest.name);`,
	)
}

// Create returns a body creating a file or directory. Creating an existing
// entry of the same kind succeeds.
func Create(path string, kind types.EntryKind) string {
	return body(
		`const target = opfsSplit(`+lit(types.NormalizePath(path))+`);`,
		`const kind = `+lit(string(kind))+`;`,
		`if (!target.name) throw new Error("Invalid path");`,
		`const dir = await opfsResolveDir(target.dir);`,
		`if (kind === "directory") {`,
		`  await dir.getDirectoryHandle(target.name, { create: true });`,
		`} else {`,
		`  await dir.getFileHandle(target.name, { create: true });`,
		`}`,
		`return null;`,
	)
}

// Delete returns a body removing an entry recursively.
func Delete(path string) string {
	return body(
		`const target = opfsSplit(`+lit(types.NormalizePath(path))+`);`,
		`if (!target.name) throw new Error("Path required");`,
		`const dir = await opfsResolveDir(target.dir);`,
		`await dir.removeEntry(target.name, { recursive: true });`,
		`return null;`,
	)
}

// Download returns a body that triggers a browser download of a file.
func Download(path string) string {
	return body(
		`const opened = await opfsOpenFile(`+lit(types.NormalizePath(path))+`);`,
		`const url = URL.createObjectURL(opened.file);`,
		`try {`,
		`  const a = document.createElement("a");`,
		`  a.href = url;`,
		`  a.download = opened.file.name || opened.name;`,
		`  a.style.display = "none";`,
		`  document.body.appendChild(a);`,
		`  a.click();`,
		`  document.body.removeChild(a);`,
		`} finally {`,
		`  URL.revokeObjectURL(url);`,
		`}`,
		`return null;`,
	)
}

// StorageEstimate returns a body reporting the origin's usage and quota.
func StorageEstimate() string {
	return body(
		`if (!globalThis.navigator || !navigator.storage || !navigator.storage.estimate) {`,
		`  throw new Error(`+lit(ErrMsgNoEstimateAPI)+`);`,
		`}`,
		`const estimate = await navigator.storage.estimate();`,
		`return { usage: estimate.usage || 0, quota: estimate.quota || 0 };`,
	)
}

// Exists returns a body reporting whether a path resolves to an entry. It
// never raises; any failure yields false.
func Exists(path string) string {
	return body(
		`try {`,
		`  const target = opfsSplit(`+lit(types.NormalizePath(path))+`);`,
		`  const dir = await opfsResolveDir(target.dir);`,
		`  if (!target.name) return true;`,
		`  await opfsGetEntry(dir, target.name);`,
		`  return true;`,
		`} catch (e) {`,
		`  return false;`,
		`}`,
	)
}
