/*
Package transfer moves batches of images between a local disk and an
image-vault server.

BatchUploader expands a job file of {folderPath, extensions} entries into
work items and posts each one to POST /images. BatchExporter downloads
catalogued assets from /storage into a destination directory, picking
collision-free names. Both run at most five transfers at a time through
workers.Run, count outcomes per invocation and report through an Observer:

	up := transfer.NewBatchUploader(client, "holiday")
	summary := up.Run(ctx, specs, observer)
	fmt.Println(summary)

A failed item never stops its siblings. Every run ends with exactly one
OnComplete call, even when every item failed.
*/
package transfer
