/*
Command cs82phot measures SDSS fluxes of sources in a CS82 deep catalog by
forced photometry.

Contents

Version 0.1

  Program overview
  Command line usage
  Configuration file
  File formats
  Algorithm outline


Program overview

Input is a CS82 deep field catalog of sources with positions and shapes
measured on the deep imaging.  Output is the same catalog with fluxes,
flux errors, magnitudes, and fit statistics in each SDSS band, measured on
the SDSS frames with positions and shapes held fixed.

The catalog area is cut into a grid of tiles.  Each tile is fit on its own
with a margin band around it, so sources near an edge are modeled but not
measured there.  A source is measured in the one tile it is interior to.
The catalog is written after every tile, so a run can be watched and a
partial result is never lost.

Sample run:

  cs82phot --field S82p18p -b gri


Command line usage

  cs82phot [options]

  Options:
    -b, --bands string    SDSS bands (default "ugriz")
    -c, --config string   YAML config file
        --das string      SDSS DAS url
        --field string    CS82 field name (default "S82p18p")
    -l, --local           use local SDSS tree only, no downloads
    -v, --verbose         debug logging

Flags override the same settings from the config file.


Configuration file

An optional YAML file.  Every key has a default.

  field          CS82 field name
  data_dir       directory of deep catalogs
  catalog        catalog file name, %s replaced by the field
  catalog_hdu    catalog table HDU, default 2
  window_flist   SDSS window_flist file
  enclosed_only  use only fields wholly inside the catalog area
  ref_db         SQLite database of reference objects and field lists
  photoobj       glob patterns of photoObj files imported into an empty ref_db
  image_dir      local frame tree, <run>/<camcol>/<frame file>
  das_url        archive frame directory
  local          never download
  download       http, curl, or wget
  frame_cache    number of decoded frames kept in memory
  out_dir        where catalogs are written
  diag_dir       where diagnostic images go, empty for none
  bands          SDSS bands to measure, a subset of ugriz
  maglim         sources fainter than this in every band are skipped
  margin_arcsec  tile margin
  match_arcsec   reference match radius for seeding fluxes
  grid_edges     RA and Dec grid lines, cells are one fewer
  min_score      minimum field score
  min_dlnp       stop fitting when log likelihood improves less
  max_steps      maximum fit steps


File formats

Catalog checkpoints are FITS tables in out_dir.  After each tile of RA
slice s, cs82-phot-<field>-slice<s>.fits holds every row and
cs82-phot-<field>-slice<s>-cut.fits holds rows measured so far.  The
final catalog, cs82-phot-<field>.fits, drops the bookkeeping columns.

Per band columns, for band b, are sdss_b_nanomaggies,
sdss_b_nanomaggies_invvar, sdss_b_mag, sdss_b_mag_err, prochi2_b,
pronpix_b, profracflux_b, proflux_b, npix_b, and fit_ok_b.


Algorithm outline

Catalog rows become point, exponential, deV, or composite sources by
comparing PSF and model chi square and the disk and spheroid magnitudes.
Fluxes start from the nearest primary SDSS object within the match radius.
For each tile and band, frames overlapping the tile are cut out, the
fluxes of interior sources are fit by linear least squares with margin
sources held fixed, and results are written back to the catalog rows.

Magnitudes are 22.5 - 2.5 log10(nanomaggies).

-------------
Public domain.
*/
package main
