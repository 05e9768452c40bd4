// Package script builds the code bodies that run inside the inspected page.
//
// A body is the text of an async function body: it may use await and it
// returns a JSON-compatible value. Bodies are self-contained. They carry the
// shared helper preamble and every parameter as an escaped literal, because
// they execute in a foreign context with no access to the inspector's memory.
//
// Bodies are wrapped and submitted by the bridge package; this package only
// produces text.
package script

import (
	"strconv"
	"strings"

	"github.com/pithecene-io/opfsx/types"
)

// Size caps applied inside the page.
const (
	// MaxTextBytes is the largest file returned as text. Larger files yield
	// a placeholder.
	MaxTextBytes = 1 << 20
	// MaxImageBytes is the largest image returned as a base64 data URI.
	MaxImageBytes = 5 << 20
	// MaxTransferBytes is the largest file transferred by ReadBase64.
	MaxTransferBytes = 64 << 20
)

// Environment error messages, raised before any other work.
const (
	ErrMsgInsecureContext = "OPFS requires a Secure Context (HTTPS or localhost)."
	ErrMsgNoStorageAPI    = "OPFS API (navigator.storage.getDirectory) is not supported in this browser/context."
	ErrMsgNoEstimateAPI   = "Storage estimate API (navigator.storage.estimate) is not supported in this browser/context."
)

// preambleTemplate is the helper library shared by every body. Tokens in
// braces are replaced once at package init.
const preambleTemplate = `
const MAX_TEXT_BYTES = {{MAX_TEXT_BYTES}};
const MAX_IMAGE_BYTES = {{MAX_IMAGE_BYTES}};
const MAX_TRANSFER_BYTES = {{MAX_TRANSFER_BYTES}};
const PLACEHOLDER = "{{PLACEHOLDER}}";
const TEXT_EXTENSIONS = ["txt", "json", "js", "mjs", "cjs", "ts", "css", "html", "htm", "md", "xml", "csv", "log", "yaml", "yml", "toml", "ini", "sql", "map"];
const BINARY_EXTENSIONS = ["bin", "db", "sqlite", "sqlite3", "wasm", "pdf", "zip", "gz", "tar", "mp3", "mp4", "webm", "wav", "ogg", "woff", "woff2", "ttf"];
const IMAGE_TYPES = {
  png: "image/png", jpg: "image/jpeg", jpeg: "image/jpeg", gif: "image/gif",
  webp: "image/webp", bmp: "image/bmp", ico: "image/x-icon", avif: "image/avif",
  svg: "image/svg+xml"
};
const MIME_TYPES = {
  txt: "text/plain", log: "text/plain", md: "text/markdown", csv: "text/csv",
  html: "text/html", htm: "text/html", css: "text/css",
  js: "text/javascript", mjs: "text/javascript", cjs: "text/javascript", ts: "text/typescript",
  json: "application/json", map: "application/json", xml: "application/xml",
  yaml: "application/yaml", yml: "application/yaml", toml: "application/toml",
  wasm: "application/wasm", pdf: "application/pdf", zip: "application/zip",
  sqlite: "application/vnd.sqlite3", sqlite3: "application/vnd.sqlite3", db: "application/vnd.sqlite3"
};

function opfsExt(name) {
  const i = name.lastIndexOf(".");
  return i < 0 ? "" : name.slice(i + 1).toLowerCase();
}

function opfsIsImage(name, type) {
  if (type && type.indexOf("image/") === 0) return true;
  return Object.prototype.hasOwnProperty.call(IMAGE_TYPES, opfsExt(name));
}

function opfsIsText(name, type) {
  const ext = opfsExt(name);
  if (TEXT_EXTENSIONS.indexOf(ext) >= 0) return true;
  if (type) return type.indexOf("text/") === 0 || type === "application/json";
  return BINARY_EXTENSIONS.indexOf(ext) < 0 && !opfsIsImage(name, type);
}

function opfsMime(name, type) {
  if (type) return type;
  const ext = opfsExt(name);
  return IMAGE_TYPES[ext] || MIME_TYPES[ext] || (opfsIsText(name, type) ? "text/plain" : "application/octet-stream");
}

function opfsMB(size) {
  return (size / 1024 / 1024).toFixed(2);
}

async function opfsRoot() {
  if (!globalThis.isSecureContext) throw new Error("{{ERR_INSECURE}}");
  if (!globalThis.navigator || !navigator.storage || !navigator.storage.getDirectory) {
    throw new Error("{{ERR_NO_STORAGE}}");
  }
  return await navigator.storage.getDirectory();
}

function opfsSplit(path) {
  const parts = path.split("/").filter(function (p) { return p.length > 0; });
  const name = parts.length > 0 ? parts.pop() : "";
  return { dir: parts.join("/"), name: name };
}

async function opfsResolveDir(path) {
  let current = await opfsRoot();
  const parts = path.split("/").filter(function (p) { return p.length > 0; });
  for (let i = 0; i < parts.length; i++) {
    current = await current.getDirectoryHandle(parts[i]);
  }
  return current;
}

async function opfsGetEntry(dir, name) {
  try {
    return await dir.getFileHandle(name);
  } catch (e) {
    return await dir.getDirectoryHandle(name);
  }
}

async function opfsEntries(dir) {
  const out = [];
  const it = dir.entries();
  while (true) {
    const step = await it.next();
    if (step.done) break;
    out.push(step.value);
  }
  return out;
}

async function opfsCopy(handle, destDir, name) {
  if (handle.kind === "file") {
    const file = await handle.getFile();
    const target = await destDir.getFileHandle(name, { create: true });
    const writable = await target.createWritable();
    await writable.write(await file.arrayBuffer());
    await writable.close();
    return;
  }
  const sub = await destDir.getDirectoryHandle(name, { create: true });
  const children = await opfsEntries(handle);
  for (let i = 0; i < children.length; i++) {
    await opfsCopy(children[i][1], sub, children[i][0]);
  }
}

// Copy-then-remove is not atomic: an interruption can leave both copies.
async function opfsMove(srcDir, name, handle, destDir, newName) {
  if (typeof handle.move === "function") {
    if (destDir === srcDir) {
      await handle.move(newName);
    } else {
      await handle.move(destDir, newName);
    }
    return { atomic: true };
  }
  await opfsCopy(handle, destDir, newName);
  await srcDir.removeEntry(name, { recursive: true });
  return { atomic: false };
}

function opfsBytesToBase64(bytes) {
  let binary = "";
  const chunk = 32768;
  for (let i = 0; i < bytes.length; i += chunk) {
    binary += String.fromCharCode.apply(null, bytes.subarray(i, i + chunk));
  }
  return btoa(binary);
}

function opfsBase64ToBytes(b64) {
  const binary = atob(b64);
  const bytes = new Uint8Array(binary.length);
  for (let i = 0; i < binary.length; i++) {
    bytes[i] = binary.charCodeAt(i);
  }
  return bytes;
}

async function opfsOpenFile(path) {
  const target = opfsSplit(path);
  if (!target.name) throw new Error("File path required");
  const dir = await opfsResolveDir(target.dir);
  const handle = await dir.getFileHandle(target.name);
  return { name: target.name, file: await handle.getFile() };
}
`

// Preamble is the helper library embedded at the top of every body.
var Preamble = strings.NewReplacer(
	"{{MAX_TEXT_BYTES}}", strconv.Itoa(MaxTextBytes),
	"{{MAX_IMAGE_BYTES}}", strconv.Itoa(MaxImageBytes),
	"{{MAX_TRANSFER_BYTES}}", strconv.Itoa(MaxTransferBytes),
	"{{PLACEHOLDER}}", types.PlaceholderPrefix,
	"{{ERR_INSECURE}}", ErrMsgInsecureContext,
	"{{ERR_NO_STORAGE}}", ErrMsgNoStorageAPI,
).Replace(preambleTemplate)
