// Package install provides installers for downloaded patches.
//
// Copy places the patch file into a directory, Command hands it to an
// external applier, and Chain combines several installers. All of them
// satisfy download.Installer.
package install
