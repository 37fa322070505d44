package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/covekit/cove/pkg/errdefs"
)

// volumeManifest is the declarative YAML form consumed by apply.
type volumeManifest struct {
	Volumes []struct {
		Name string `yaml:"name"`
	} `yaml:"volumes"`
}

var applyFile string

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Create volumes declared in a YAML manifest",
	Long: `Apply reads a manifest of the form

    volumes:
      - name: postgres-data
      - name: wiki-data

and creates every listed volume that does not exist yet. Existing volumes
are left untouched, so apply is safe to re-run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(applyFile)
		if err != nil {
			return fmt.Errorf("reading manifest: %w", err)
		}

		var manifest volumeManifest
		if err := yaml.Unmarshal(data, &manifest); err != nil {
			return fmt.Errorf("parsing manifest %s: %w", applyFile, err)
		}

		svc, cleanup, err := newService()
		if err != nil {
			return err
		}
		defer cleanup()

		for _, v := range manifest.Volumes {
			_, err := svc.Create(v.Name)
			if errdefs.IsAlreadyExists(err) {
				fmt.Printf("volume %s unchanged\n", v.Name)
				continue
			}
			if err != nil {
				return err
			}
			fmt.Printf("volume %s created\n", v.Name)
		}
		return nil
	},
}

func init() {
	applyCmd.Flags().StringVarP(&applyFile, "file", "f", "", "Manifest file to apply")
	applyCmd.MarkFlagRequired("file")
}
