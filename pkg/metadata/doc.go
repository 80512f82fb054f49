// Package metadata builds the single-trigger Metadata API packages deployed to
// toggle an Apex trigger: a package.xml manifest, the trigger descriptor and,
// optionally, a placeholder trigger body, zipped and base64 encoded.
package metadata
