// Command rtld-tool is an offline diagnostic for ELF images: it parses
// headers, program headers, and the dynamic section the same way rtld
// itself does, but never relocates or transfers control anywhere
// (SPEC_FULL.md §3 item 3). It exists for the same reason ldd/readelf
// exist next to a real ld.so: answering "what would this loader do with
// this file" without actually running the program.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xyproto/rtld/internal/dynsec"
	"github.com/xyproto/rtld/internal/elfimage"
	"github.com/xyproto/rtld/internal/object"
	"github.com/xyproto/rtld/internal/search"
	"github.com/xyproto/rtld/internal/state"
	"github.com/xyproto/rtld/internal/sysraw"
)

func main() {
	root := &cobra.Command{
		Use:   "rtld-tool",
		Short: "Inspect ELF images the way rtld would load them",
	}

	root.AddCommand(dumpCmd(), depsCmd(), searchCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func dumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump <path>",
		Short: "Print the ELF header and program headers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, hdr, phdrs, err := readImage(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("machine=%#x type=%d entry=%s pie=%v\n",
				hdr.Machine, hdr.Type, sysraw.FormatHex(hdr.Entry), hdr.IsPIE())
			for i, ph := range phdrs {
				fmt.Printf("  [%2d] type=%#x flags=%#x vaddr=%s filesz=%s memsz=%s align=%s\n",
					i, ph.Type, ph.Flags,
					sysraw.FormatHex(ph.Vaddr), sysraw.FormatHex(ph.Filesz),
					sysraw.FormatHex(ph.Memsz), sysraw.FormatHex(ph.Align))
			}
			return nil
		},
	}
}

func depsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deps <path>",
		Short: "Print DT_NEEDED, DT_SONAME, and DT_RUNPATH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			obj, err := parseDynamic(args[0])
			if err != nil {
				return err
			}
			if obj.SOName != "" {
				fmt.Printf("soname: %s\n", obj.SOName)
			}
			if len(obj.Runpath) > 0 {
				fmt.Printf("runpath: %v\n", obj.Runpath)
			}
			fmt.Println("needed:")
			for _, n := range obj.Needed {
				fmt.Printf("  %s\n", n)
			}
			return nil
		},
	}
}

func searchCmd() *cobra.Command {
	var libraryPath, runpath string
	cmd := &cobra.Command{
		Use:   "search <name>",
		Short: "Show the candidate paths rtld would try, in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			candidates := search.Candidates(args[0], splitNonEmpty(libraryPath), splitNonEmpty(runpath), state.DefaultSearchDirs)
			for _, c := range candidates {
				marker := " "
				if fd, err := sysraw.Open(c); err == nil {
					marker = "*"
					sysraw.Close(fd)
				}
				fmt.Printf("%s %s\n", marker, c)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&libraryPath, "library-path", "", "colon-separated LD_LIBRARY_PATH override")
	cmd.Flags().StringVar(&runpath, "runpath", "", "colon-separated DT_RUNPATH override")
	return cmd
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ':' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// readImage opens path and parses its header and program headers only —
// no mapping, no dynamic section. Used by dump, which only ever reports
// what's in the file, not what loading it would produce in memory.
func readImage(path string) (int, elfimage.Header, []elfimage.ProgramHeader, error) {
	fd, err := sysraw.Open(path)
	if err != nil {
		return -1, elfimage.Header{}, nil, err
	}
	headerBuf := make([]byte, elfimage.EHeaderSize)
	if _, err := sysraw.Pread(fd, headerBuf, 0); err != nil {
		sysraw.Close(fd)
		return -1, elfimage.Header{}, nil, err
	}
	hdr, err := elfimage.ParseHeader(headerBuf)
	if err != nil {
		sysraw.Close(fd)
		return -1, elfimage.Header{}, nil, err
	}
	phdrBuf := make([]byte, int(hdr.PHNum)*elfimage.PHeaderSize)
	if _, err := sysraw.Pread(fd, phdrBuf, int64(hdr.PHOff)); err != nil {
		sysraw.Close(fd)
		return -1, elfimage.Header{}, nil, err
	}
	phdrs, err := elfimage.ParseProgramHeaders(phdrBuf, hdr)
	sysraw.Close(fd)
	return fd, hdr, phdrs, err
}

// parseDynamic maps the image with MapSegments' readOnly mode (every
// PT_LOAD segment comes back PROT_READ only, never PROT_EXEC or
// PROT_WRITE, regardless of the segment's real PF_X/PF_W flags) so the
// dynamic section's string table is addressable, then parses it — the
// same dynsec walk rtld runs, minus relocation, RELRO, and control
// transfer, and without ever mapping anything executable.
func parseDynamic(path string) (*object.LoadedObject, error) {
	fd, err := sysraw.Open(path)
	if err != nil {
		return nil, err
	}
	defer sysraw.Close(fd)

	headerBuf := make([]byte, elfimage.EHeaderSize)
	if _, err := sysraw.Pread(fd, headerBuf, 0); err != nil {
		return nil, err
	}
	hdr, err := elfimage.ParseHeader(headerBuf)
	if err != nil {
		return nil, err
	}
	phdrBuf := make([]byte, int(hdr.PHNum)*elfimage.PHeaderSize)
	if _, err := sysraw.Pread(fd, phdrBuf, int64(hdr.PHOff)); err != nil {
		return nil, err
	}
	phdrs, err := elfimage.ParseProgramHeaders(phdrBuf, hdr)
	if err != nil {
		return nil, err
	}
	mapped, err := elfimage.MapSegments(fd, hdr, phdrs, true)
	if err != nil {
		return nil, err
	}
	if !mapped.HasDynamic {
		return nil, fmt.Errorf("%s: not a dynamically linked image (no PT_DYNAMIC)", path)
	}

	obj := &object.LoadedObject{Name: path, Base: mapped.Bias, Dynamic: mapped.DynamicAddr}
	if err := dynsec.Parse(obj, false); err != nil {
		return nil, err
	}
	return obj, nil
}
