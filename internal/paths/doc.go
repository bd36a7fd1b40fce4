// Provides platform-appropriate paths for cruxpipe.
//
// All paths follow XDG conventions on Linux and platform-native conventions
// on macOS and Windows. The name "cruxpipe" is used as the subdirectory
// under each base path.
package paths
