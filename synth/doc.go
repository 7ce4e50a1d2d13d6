/*
Command synth renders an SDSS frame from its reference catalog and tunes
source fluxes against the data.

Usage

  synth -r <run> -c <camcol> -f <field> -b <band> [options]

Run, camcol, field, and band are required.  Band is one of ugriz.  Missing
or invalid values show the usage message and exit with status -1.

Options:

  --ntune N          N global tuning steps.  May repeat.
  --itune N,M        N rounds in which each source in turn gets M steps
                     with all other sources fixed.  May repeat.
  --roi x0,x1,y0,y1  Work on this region of the frame only.
  --prefix P         Output prefix, default RRRRRR-BC-FFFF.
  -d, --debug        Draw source outlines on the images.
  --plotAll          Also write images of each source alone.
  -v                 More logging.  Repeat for more.
  --curl             Download with curl rather than wget.
  -l, --local        Use frames under --dir only, no downloads.
  --dir D            Local frame tree, <run>/<camcol>/<frame file>.
  --das URL          Archive frame directory.
  --refdb F          Reference object database, as built by cs82phot.
  --photoobj F       Read reference objects from a photoObj file instead.
  --outdir D         Where output goes.

ntune and itune directives run in command line order.

Output

For the initial model and after every tuning step, with id the prefix or
tune-<set>-<step>-<prefix>:

  synth-<id>.fits    model image with the frame WCS
  state-<id>.gob     sources and frame key
  data-<id>.png      data minus sky
  model-<id>.png     model minus sky
  diff-<id>.png      data minus model
  chi-<id>.png       residual over pixel sigma

Sky is the median of the model.  Data, model, and diff share an asinh
stretch set by the data quartiles, clipped at plus and minus five sky
sigma.  Chi is linear from -10 to 10.  With --plotAll the same four
images are written for each source alone, named data-s<n>-<id> and so on.

Last, flip-<prefix>.tex pages through all the images and is typeset with
pdflatex.  A pdflatex failure is logged; the tex file remains.

-------------
Public domain.
*/
package main
