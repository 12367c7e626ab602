// Package file removes user uploaded objects from blob storage.
//
// Images are stored by URL in the database: brand logos and project or catalog
// thumbnails. Storage maps those URLs back to object keys so they can be deleted once a
// subscription grace period runs out. S3Storage covers AWS S3 and S3-compatible services;
// LocalStorage keeps files on disk for development.
//
// A missing object is reported as ErrFileNotFound, which callers purging data treat as
// already deleted.
//
//	storage, err := file.NewS3Storage(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	err = file.DeleteURL(ctx, storage, "https://cdn.example.com/logos/42.png")
package file
