// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/casc

/*
Package casc provides read-only access to CASC content storage: local game
installs and the TACT content delivery network. Files are addressed by
numeric file ID, by listfile name, or by content key, and are decoded from
BLTE containers with per-block integrity checks and optional Salsa20
decryption.

Resolution pipeline (summary):
  - root table maps file ID and locale to a content key;
  - encoding table maps content key to encoding key;
  - local .idx journals or CDN .index files map encoding key to an archive range;
  - the archive range is a BLTE container decoded and verified block by block.

# Local installs

Open a game directory containing .build.info:

	src, err := casc.OpenLocal(ctx, "/games/World of Warcraft", casc.LocalOptions{
	    Product: "wow",
	})
	if err != nil {
	    return err
	}
	defer src.Close()

	data, err := src.GetFile(ctx, 1375801)

# CDN

Open the current build of a product. Hosts are ranked by ping, failed hosts
are skipped, and fetched configs, indexes and loose files land in a per-build
cache directory:

	keys := casc.NewKeyRing(casc.KeyRingOptions{Path: "keys.json"})
	if err := keys.Load(ctx); err != nil {
	    return err
	}
	defer keys.Close()

	src, err := casc.OpenRemote(ctx, casc.RemoteOptions{
	    SourceOptions: casc.SourceOptions{Keys: keys, Locale: casc.LocaleEnUS},
	    Region:        "eu",
	    Product:       "wow",
	    CacheDir:      "cache",
	    CacheExpiry:   casc.DefaultCacheExpiry,
	    Cache: casc.BuildCacheOptions{
	        Compress: []pathrules.Rule{
	            {Action: pathrules.ActionInclude, Pattern: "*.index"},
	        },
	    },
	})

# Streaming

Large files can be read block by block without decoding the whole container:

	stream, err := src.OpenFile(ctx, fileID)
	if err != nil {
	    return err
	}
	_, err = io.Copy(dst, stream.NewReader(ctx))

# Exporting

Export writes many files with a worker pool; one failed file never stops the batch:

	res, err := casc.Export(ctx, src, ids, "out/", casc.ExportOptions{
	    Namer:      listfile,
	    MaxWorkers: 8,
	})
	_ = res.Failed

# Errors

Every error wraps one of ErrResolution, ErrIntegrity, ErrDecryption,
ErrFormat or ErrTransport. Use errors.Is with the category or with a
specific sentinel, and errors.As with *FileError or *MissingKeyError.
*/
package casc
