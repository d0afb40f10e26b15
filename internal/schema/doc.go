// Package schema defines the persisted data model for promptshelf.
//
// The whole registry is one JSON array of Project objects. Each project points
// at a folder on disk; its Images are a cache of that folder's contents and its
// ImageGroups are purely user metadata with no filesystem representation.
//
// # On-disk layout
//
// A project folder holds zero or more image files and, optionally, a sidecar
// text file per image carrying its prompt:
//
//	cat.png
//	cat.txt    <- prompt for "cat"
//	dog.webp   <- no sidecar, prompt is ""
//
// Images and sidecars are paired by filename stem. The stem is the image ID and
// the join key between the folder and the stored document.
//
// # Document layout
//
// Field names are camelCase to stay compatible with the web UI:
//
//	[
//	  {
//	    "id": "1718000000000",
//	    "name": "cats",
//	    "folderPath": "/home/me/cats",
//	    "images": [{"id": "cat", "filename": "cat.png", "mime": "image/png", ...}],
//	    "imageGroups": [{"id": "group-...", "title": "Page 1", "imageIds": ["cat"], ...}],
//	    "createdAt": "2024-06-10T06:13:20Z"
//	  }
//	]
package schema
