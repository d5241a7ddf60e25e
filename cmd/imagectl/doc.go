// Command imagectl uploads folders of images to an image-vault server and
// exports catalogued images back to disk.
//
// Usage:
//
//	imagectl <command> [flags]
//
// Commands:
//
//	upload  Upload every file matched by a job file. The job file is a JSON
//	        array of {"folderPath": "...", "extensions": ["jpg", "png"]}.
//	        Flags: -config jobs.json [-folder name]
//
//	export  Download catalogued originals into a local directory, renaming
//	        files that would collide (photo.jpg, photo_1.jpg ...).
//	        Flags: -dest dir [-folder name] [-mimetype image/png]
//
// Both commands accept -server (default $IMAGE_VAULT_URL, then
// http://localhost:8080) and -v for debug logging on stderr. Five transfers
// run at a time. The exit status is 1 when any item failed.
package main
