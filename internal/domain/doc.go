// Package domain models the Tuna Catch Habitat Index (TCHI) data products.
//
// # Data Sources
//
// Each processing run is keyed by a UTC calendar day and reads:
//
//	data/raw/<YYYY-MM-DD>/sst_raw.nc   analysed_sst (kelvin), daily L4 sea surface temperature
//	data/raw/<YYYY-MM-DD>/chla_raw.nc  chlor_a (mg/m³), daily ocean-colour chlorophyll-a
//	data/raw/EKE/sample_eke.nc         ugos, vgos (m/s), geostrophic velocity anomalies
//	data/static/bathymetry.tif         elevation (m), negative below sea level
//
// # Conventions
//
// Processed rasters are single-band float32 GeoTIFFs on one shared lattice
// (default EPSG:4326 at 0.04°). Units after harmonization:
//
//	sst    °C
//	chla   mg/m³
//	ugos   cm/s (vgos likewise)
//	eke    cm²/s², 0.5·(u²+v²)
//	tfg    °C/km, Horn gradient magnitude of sst
//	bathy  m, positive depth; land is no-data
//
// Suitability layers (S_*.tif) map each factor to [0,1]; the composite
// (tchi.tif) is their weighted geometric mean:
//
//	S_sst^0.28 · S_chla^0.10 · S_tfg^0.20 · S_eke^0.10 · S_bathy^0.32
//
// # No-Data
//
// Written rasters use -9999. Upstream products use a zoo of sentinels, so
// readers consult [NoDataFor] rather than comparing against a single value:
// the eddy-energy family flags values below -1e9 (including the int32
// overflow value -2147483648); every other layer flags -32768, -32767,
// -9999 and anything below -9000. NaN is always missing.
package domain
