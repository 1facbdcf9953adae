// Package manualtrack supports drawing tracts by hand with MRtrix.
//
// Initialize prepares "<subject>/Manual_Tractography/<tract>/" and opens the
// subject's DWI with its RGB map in mrview so ROIs can be drawn there.
// Generate runs tckgen with every seed, include ("and") and exclude ("not")
// ROI found in that folder.
package manualtrack
