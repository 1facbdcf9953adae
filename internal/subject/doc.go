// Package subject discovers the work items a pipeline stage processes.
//
// Subjects are directories whose final path segment is a tag (two digits, a
// dash, four digits) somewhere below a group token such as TDC or AIS_L. Files
// in a flat working directory become work items through FileItem. Identity
// parsing never panics: a path without a group or tag yields an
// *IdentityError wrapping ErrNoGroup or ErrNoTag.
package subject
